package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pfrederiksen/city-events/internal/event"
)

// maxVenueLength rules out descriptions and headlines as venue candidates
const maxVenueLength = 60

// datePattern finds text shaped like one of the supported date layouts:
// "2026-02-15", "15 Feb 2026", "15/02/2026" or "Feb 15, 2026".
var datePattern = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2} [A-Za-z]{3} \d{4}|\d{1,2}/\d{1,2}/\d{4}|[A-Za-z]{3} \d{1,2}, \d{4})\b`)

var (
	digitPattern = regexp.MustCompile(`\d`)
	pricePattern = regexp.MustCompile(`(?i)₹|\brs\.?\b|\binr\b|\bfree\b|\bonwards\b`)
	splitPattern = regexp.MustCompile(`\s*[|·•,]\s*`)
	slugPattern  = regexp.MustCompile(`[^a-z0-9]+`)
)

// categories is the listing vocabulary, keyed by lower-case label
var categories = map[string]string{
	"music shows":     "Music Shows",
	"concerts":        "Concerts",
	"comedy shows":    "Comedy Shows",
	"comedy":          "Comedy",
	"workshops":       "Workshops",
	"workshop":        "Workshops",
	"kids":            "Kids",
	"performances":    "Performances",
	"theatre":         "Theatre",
	"plays":           "Plays",
	"sports":          "Sports",
	"exhibitions":     "Exhibitions",
	"festivals":       "Festivals",
	"meetups":         "Meetups",
	"screenings":      "Screenings",
	"talks":           "Talks",
	"spirituality":    "Spirituality",
	"conferences":     "Conferences",
	"amusement parks": "Amusement Parks",
	"adventure":       "Adventure",
	"nightlife":       "Nightlife",
	"food & drinks":   "Food & Drinks",
}

// labels are card decorations that are never venues
var labels = map[string]bool{
	"book now":     true,
	"book":         true,
	"interested":   true,
	"promoted":     true,
	"sold out":     true,
	"filling fast": true,
	"selling fast": true,
	"new":          true,
	"premiere":     true,
}

// Normalizer turns fragments into events for one city
type Normalizer struct {
	base *url.URL
	city string
	now  func() time.Time
}

// NewNormalizer creates a Normalizer resolving links against baseURL and
// stamping events with city. A nil now uses time.Now.
func NewNormalizer(baseURL, city string, now func() time.Time) (*Normalizer, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{base: base, city: city, now: now}, nil
}

// Normalize builds an event from a fragment. It returns false when no name
// can be derived; every other missing field falls back to a default.
func (n *Normalizer) Normalize(f Fragment) (*event.Event, bool) {
	name, nameIdx := findName(f)
	if name == "" {
		return nil, false
	}

	date := findDate(f.Lines)
	cat := findCategory(f.Lines)
	venue := findVenue(f.Lines, nameIdx, name)

	link := f.Href
	if ref, err := url.Parse(f.Href); err == nil {
		link = n.base.ResolveReference(ref).String()
	}

	evt := event.NewEvent(name, date, venue, n.city, cat, link, n.now())
	evt.Time = event.ParseClock(strings.Join(f.Lines, "\n"))
	return evt, true
}

// findName prefers the card line matching the link slug, which keeps the
// listing's own casing. Otherwise the slug is title-cased. The returned index
// is the matching line, or -1.
func findName(f Fragment) (string, int) {
	slug := strings.Trim(strings.ToLower(f.Slug), "-")
	if slug == "" {
		return "", -1
	}

	for i, line := range f.Lines {
		if slugify(line) == slug {
			return line, i
		}
	}
	return titleFromSlug(slug), -1
}

// findDate returns the first date-shaped text that also parses, so an
// impossible date such as 31/02/2026 does not hide a later valid one
func findDate(lines []string) *event.Date {
	for _, line := range lines {
		for _, match := range datePattern.FindAllString(line, -1) {
			if date := event.ParseDate(match); date != nil {
				return date
			}
		}
	}
	return nil
}

func findCategory(lines []string) string {
	for _, line := range lines {
		if c, ok := category(line); ok {
			return c
		}
	}
	return event.DefaultCategory
}

func category(line string) (string, bool) {
	for _, token := range splitPattern.Split(strings.ToLower(line), -1) {
		if c, ok := categories[token]; ok {
			return c, true
		}
	}
	return "", false
}

func findVenue(lines []string, nameIdx int, name string) string {
	for i := nameIdx + 1; i < len(lines); i++ {
		line := lines[i]
		if utf8.RuneCountInString(line) >= maxVenueLength ||
			digitPattern.MatchString(line) ||
			pricePattern.MatchString(line) ||
			strings.EqualFold(line, name) ||
			labels[strings.ToLower(line)] {
			continue
		}
		if _, ok := category(line); ok {
			continue
		}
		return line
	}
	return event.DefaultVenue
}

// slugify lower-cases s and joins its alphanumeric runs with hyphens
func slugify(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// titleFromSlug turns "john-mayer-live" into "John Mayer Live"
func titleFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
