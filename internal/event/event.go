package event

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultVenue is used when no venue could be extracted
	DefaultVenue = "Various Venues"
	// DefaultCategory is used when no category could be extracted
	DefaultCategory = "General"
	// UnknownDate marks an absent or unparsable date in IDs and persisted rows
	UnknownDate = "TBD"
	// SourceBookMyShow is the platform tag for events scraped from BookMyShow
	SourceBookMyShow = "BookMyShow"

	idLength = 16
)

// Event represents a single live-event listing for one city
type Event struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Date     *Date     `json:"date,omitempty"` // nil when the date is unknown
	Time     *Clock    `json:"time,omitempty"` // nil when no clock time was found
	Venue    string    `json:"venue"`
	City     string    `json:"city"`
	Category string    `json:"category"`
	URL      string    `json:"url"`
	Source   string    `json:"source"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// GenerateID creates a deterministic ID for an event from its identifying fields.
// A nil date contributes the UnknownDate marker.
func GenerateID(name string, date *Date, venue, city string) string {
	dateKey := UnknownDate
	if date != nil {
		dateKey = date.String()
	}

	h := sha1.New()
	h.Write([]byte(strings.Join([]string{
		normalizeKey(name),
		normalizeKey(dateKey),
		normalizeKey(venue),
		normalizeKey(city),
	}, "|")))
	return fmt.Sprintf("%x", h.Sum(nil))[:idLength]
}

// normalizeKey lowercases, trims and collapses internal whitespace
func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NewEvent creates a new Event with defaults applied and ID and LastSeen populated
func NewEvent(name string, date *Date, venue, city, category, url string, seen time.Time) *Event {
	if strings.TrimSpace(venue) == "" {
		venue = DefaultVenue
	}
	if strings.TrimSpace(category) == "" {
		category = DefaultCategory
	}

	return &Event{
		ID:       GenerateID(name, date, venue, city),
		Name:     name,
		Date:     date,
		Venue:    venue,
		City:     city,
		Category: category,
		URL:      url,
		Source:   SourceBookMyShow,
		LastSeen: seen,
	}
}

// DateText returns the ISO date or the UnknownDate marker
func (e *Event) DateText() string {
	if e.Date == nil {
		return UnknownDate
	}
	return e.Date.String()
}

// TimeText returns the clock time or an empty string when unknown
func (e *Event) TimeText() string {
	if e.Time == nil {
		return ""
	}
	return e.Time.String()
}
