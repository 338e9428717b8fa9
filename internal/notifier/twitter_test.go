package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/city-events/internal/event"
)

func testEvent(name string, withDate bool) *event.Event {
	var date *event.Date
	if withDate {
		d := event.NewDate(2026, time.February, 14)
		date = &d
	}
	evt := event.NewEvent(name, date, "Jio World Garden", "Mumbai", "Music Shows",
		"https://in.bookmyshow.com/events/x/ET00412345", time.Now())
	return evt
}

func TestFormatPost(t *testing.T) {
	long := testEvent(strings.Repeat("A very long event name ", 20), true)

	unknown := event.NewEvent("John Mayer Solo Live", nil, "", "Navi Mumbai", "", "", time.Now())

	timed := testEvent("Zakir Khan Live", true)
	timed.Time = &event.Clock{Hour: 19, Minute: 30}

	tests := []struct {
		name     string
		event    *event.Event
		contains []string
		excludes []string
	}{
		{
			name:     "complete event",
			event:    testEvent("Sunburn Arena", true),
			contains: []string{"Mumbai", "Sunburn Arena", "Sat, 14 Feb 2026", "Jio World Garden", "Music Shows", "#Mumbai", "🎟️"},
		},
		{
			name:     "with time",
			event:    timed,
			contains: []string{"Sat, 14 Feb 2026 19:30"},
		},
		{
			name:     "defaults are not posted",
			event:    unknown,
			contains: []string{"Date TBA", "#NaviMumbai"},
			excludes: []string{event.DefaultVenue, event.DefaultCategory, "🔗"},
		},
		{
			name:     "very long name gets truncated",
			event:    long,
			contains: []string{"..."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatPost(tt.event)

			if n := utf8.RuneCountInString(got); n > maxPostLength {
				t.Errorf("formatPost() length = %d, want <= %d", n, maxPostLength)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("formatPost() missing %q in post:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("formatPost() should not contain %q:\n%s", unwanted, got)
				}
			}
		})
	}
}

func TestDryRunNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewDryRunNotifier(&buf)

	events := []*event.Event{testEvent("Test Event 1", true), testEvent("Test Event 2", false)}
	if err := notifier.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"--- Post 1/2 ---", "--- Post 2/2 ---", "Test Event 1", "Test Event 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestTwitterNotifier_Notify(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		statuses = append(statuses, r.Form.Get("status"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 1, "text": "ok"}`)
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: rewriteTransport{target: target}}
	n := newTwitterNotifier(client, 0)
	n.maxPosts = 2

	events := []*event.Event{testEvent("One", true), testEvent("Two", true), testEvent("Three", true)}
	if err := n.Notify(context.Background(), events); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(statuses) != 2 {
		t.Fatalf("posted %d statuses, want 2 (capped)", len(statuses))
	}
	if !strings.Contains(statuses[0], "One") {
		t.Errorf("first status = %q", statuses[0])
	}
}

func TestTwitterNotifier_CancelledBetweenPosts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		cancel()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 1, "text": "ok"}`)
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: rewriteTransport{target: target}}
	n := newTwitterNotifier(client, time.Hour)

	events := []*event.Event{testEvent("One", true), testEvent("Two", true)}
	err := n.Notify(ctx, events)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Notify() error = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&posts); got != 1 {
		t.Errorf("posted %d statuses, want 1", got)
	}
}

func TestTwitterNotifier_SetMaxPosts(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{5, 5},
		{0, DefaultMaxPosts},
		{-1, DefaultMaxPosts},
	}

	for _, tt := range tests {
		n := newTwitterNotifier(http.DefaultClient, 0)
		n.SetMaxPosts(tt.limit)
		if n.maxPosts != tt.want {
			t.Errorf("SetMaxPosts(%d) maxPosts = %d, want %d", tt.limit, n.maxPosts, tt.want)
		}
	}
}

func TestNewTwitterNotifier_MissingCredentials(t *testing.T) {
	if _, err := NewTwitterNotifier(Credentials{APIKey: "k"}); err == nil {
		t.Error("NewTwitterNotifier() error = nil, want missing credentials")
	}
}

// rewriteTransport sends every request to the test server
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}
