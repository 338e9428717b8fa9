package scraper

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/pfrederiksen/city-events/internal/event"
)

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../../testdata/fixtures/listing_mumbai.html")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}
	return data
}

func TestExtract(t *testing.T) {
	fragments, err := NewExtractor(DefaultMaxFragments).Extract(bytes.NewReader(loadFixture(t)))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	wantSlugs := []string{
		"sunburn-arena-ft-alan-walker",
		"zakir-khan-live",
		"pottery-workshop",
		"john-mayer-solo-live",
	}
	if len(fragments) != len(wantSlugs) {
		t.Fatalf("expected %d fragments, got %d: %+v", len(wantSlugs), len(fragments), fragments)
	}
	for i, want := range wantSlugs {
		if fragments[i].Slug != want {
			t.Errorf("fragments[%d].Slug = %q, expected %q", i, fragments[i].Slug, want)
		}
		if !strings.HasPrefix(fragments[i].Code, "ET") {
			t.Errorf("fragments[%d].Code = %q, expected ET prefix", i, fragments[i].Code)
		}
	}

	first := fragments[0]
	wantLines := []string{"Promoted", "Sunburn Arena ft. Alan Walker", "Sat, 14 Feb 2026", "Jio World Garden", "Music Shows", "₹ 1499 onwards"}
	if strings.Join(first.Lines, "|") != strings.Join(wantLines, "|") {
		t.Errorf("first.Lines = %q, expected %q", first.Lines, wantLines)
	}

	if len(fragments[3].Lines) != 0 {
		t.Errorf("empty card should have no lines, got %q", fragments[3].Lines)
	}
}

func TestExtract_EdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		max       int
		wantCount int
	}{
		{
			name:      "no event links",
			html:      `<html><body><a href="/explore/home">Home</a></body></html>`,
			max:       30,
			wantCount: 0,
		},
		{
			name:      "empty document",
			html:      ``,
			max:       30,
			wantCount: 0,
		},
		{
			name:      "empty slug skipped",
			html:      `<div><a href="/events//ET123">x</a><a href="/events/a/ET1">a</a></div>`,
			max:       30,
			wantCount: 1,
		},
		{
			name:      "duplicate href kept once",
			html:      `<div><a href="/events/a/ET1">a</a></div><div><a href="/events/a/ET1">a again</a></div>`,
			max:       30,
			wantCount: 1,
		},
		{
			name:      "non ET code ignored",
			html:      `<div><a href="/events/a/XY1">a</a></div>`,
			max:       30,
			wantCount: 0,
		},
		{
			name:      "query string tolerated",
			html:      `<div><a href="/events/a/ET1?src=home">a</a></div>`,
			max:       30,
			wantCount: 1,
		},
		{
			name:      "cap applied",
			html:      manyLinks(40),
			max:       30,
			wantCount: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fragments, err := NewExtractor(tt.max).Extract(strings.NewReader(tt.html))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(fragments) != tt.wantCount {
				t.Errorf("Extract() got %d fragments, want %d", len(fragments), tt.wantCount)
			}
		})
	}
}

func TestExtract_CapKeepsEarliest(t *testing.T) {
	fragments, err := NewExtractor(30).Extract(strings.NewReader(manyLinks(40)))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got := fragments[0].Slug; got != "show-0" {
		t.Errorf("first fragment = %q, want show-0", got)
	}
	if got := fragments[29].Slug; got != "show-29" {
		t.Errorf("last fragment = %q, want show-29", got)
	}
}

func TestExtract_GridOfAnchorCards(t *testing.T) {
	page := `<html><body><div class="grid">
		<a href="/events/alpha-show/ET1"><h3>Alpha Show</h3><p>10 Feb 2026</p><p>Comedy Shows</p></a>
		<a href="/events/beta-show/ET2"><h3>Beta Show</h3><p>20 Mar 2026</p><p>Music Shows</p><p>NSCI Dome</p></a>
	</div></body></html>`

	fragments, err := NewExtractor(DefaultMaxFragments).Extract(strings.NewReader(page))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}

	wantLines := [][]string{
		{"Alpha Show", "10 Feb 2026", "Comedy Shows"},
		{"Beta Show", "20 Mar 2026", "Music Shows", "NSCI Dome"},
	}
	for i, want := range wantLines {
		if strings.Join(fragments[i].Lines, "|") != strings.Join(want, "|") {
			t.Errorf("fragments[%d].Lines = %q, expected %q", i, fragments[i].Lines, want)
		}
	}

	n, err := NewNormalizer("https://in.bookmyshow.com", "Mumbai", nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		date, venue, category string
	}{
		{"2026-02-10", event.DefaultVenue, "Comedy Shows"},
		{"2026-03-20", "NSCI Dome", "Music Shows"},
	}
	for i, tt := range tests {
		evt, ok := n.Normalize(fragments[i])
		if !ok {
			t.Fatalf("fragment %d dropped", i)
		}
		if evt.DateText() != tt.date || evt.Venue != tt.venue || evt.Category != tt.category {
			t.Errorf("event %d = %s / %q / %q, expected %s / %q / %q",
				i, evt.DateText(), evt.Venue, evt.Category, tt.date, tt.venue, tt.category)
		}
	}
}

func TestExtract_SharedWrapperAroundCards(t *testing.T) {
	// each card div holds one link, the section around them holds both
	page := `<section>
		<div><a href="/events/alpha-show/ET1">Alpha Show</a><span>10 Feb 2026</span></div>
		<div><a href="/events/beta-show/ET2">Beta Show</a><span>20 Mar 2026</span></div>
	</section>`

	fragments, err := NewExtractor(DefaultMaxFragments).Extract(strings.NewReader(page))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
	if got := strings.Join(fragments[1].Lines, "|"); got != "Beta Show|20 Mar 2026" {
		t.Errorf("fragments[1].Lines = %q", got)
	}
}

func TestCountLinks(t *testing.T) {
	tests := []struct {
		name string
		html string
		want int
	}{
		{"fixture", string(loadFixture(t)), 4},
		{"none", "<html><body>Access denied</body></html>", 0},
		{"not capped", manyLinks(40), 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountLinks([]byte(tt.html)); got != tt.want {
				t.Errorf("CountLinks() = %d, want %d", got, tt.want)
			}
		})
	}
}

func manyLinks(n int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div><a href="/events/show-%d/ET%08d">Show %d</a></div>`, i, i, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}
