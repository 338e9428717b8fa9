// Package filter narrows a city's stored events for listing and export.
//
// A filter combines any of these criteria; an event must pass all of them:
//   - Date range (from/to, inclusive)
//   - Statuses (Active, Upcoming, Expired)
//   - Categories and venues (case-insensitive substring matching)
//   - Name search terms (case-insensitive substring matching)
//   - Weekends only (Saturday/Sunday)
//
// Events with an unknown date are kept by the date criteria unless
// DatedOnly is set.
//
// Example usage:
//
//	f := filter.NewFilter()
//	f.WeekendsOnly = true
//	f.Categories = []string{"comedy"}
//	filtered := f.Apply(dataset.Events())
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
)

// Filter represents event filtering criteria
type Filter struct {
	// Date range filtering
	DateFrom *event.Date `json:"date_from,omitempty"`
	DateTo   *event.Date `json:"date_to,omitempty"`

	// Drop events whose date is unknown
	DatedOnly bool `json:"dated_only,omitempty"`

	// Weekend-only filtering (Saturday/Sunday)
	WeekendsOnly bool `json:"weekends_only,omitempty"`

	// Status filtering (exact match)
	Statuses []event.Status `json:"statuses,omitempty"`

	// Category filtering (case-insensitive substring match)
	Categories []string `json:"categories,omitempty"`

	// Venue filtering (case-insensitive substring match)
	Venues []string `json:"venues,omitempty"`

	// Name search (case-insensitive substring match)
	Search []string `json:"search,omitempty"`
}

// NewFilter creates a new empty filter with no active criteria.
// The filter will match all events until criteria are added.
func NewFilter() *Filter {
	return &Filter{
		Statuses:   []event.Status{},
		Categories: []string{},
		Venues:     []string{},
		Search:     []string{},
	}
}

// IsEmpty checks if the filter has any active criteria.
// Returns true if the filter would match all events.
func (f *Filter) IsEmpty() bool {
	return f.DateFrom == nil &&
		f.DateTo == nil &&
		!f.DatedOnly &&
		!f.WeekendsOnly &&
		len(f.Statuses) == 0 &&
		len(f.Categories) == 0 &&
		len(f.Venues) == 0 &&
		len(f.Search) == 0
}

// Matches checks if an event matches all active filter criteria.
// An empty filter matches all events.
func (f *Filter) Matches(evt *event.Event) bool {
	// Empty filter matches all events
	if f.IsEmpty() {
		return true
	}

	if !f.matchesDate(evt.Date) {
		return false
	}

	if len(f.Statuses) > 0 {
		matched := false
		for _, status := range f.Statuses {
			if evt.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return containsAny(evt.Category, f.Categories) &&
		containsAny(evt.Venue, f.Venues) &&
		containsAny(evt.Name, f.Search)
}

func (f *Filter) matchesDate(date *event.Date) bool {
	if date == nil {
		return !f.DatedOnly
	}

	if f.DateFrom != nil && date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && date.After(*f.DateTo) {
		return false
	}

	if f.WeekendsOnly {
		weekday := date.Time().Weekday()
		if weekday != time.Saturday && weekday != time.Sunday {
			return false
		}
	}
	return true
}

// containsAny reports whether value contains one of terms, ignoring case.
// No terms always matches.
func containsAny(value string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Apply applies the filter to a list of events and returns only matching events.
// If the filter is empty, returns the original list unchanged.
func (f *Filter) Apply(events []*event.Event) []*event.Event {
	if f.IsEmpty() {
		return events
	}

	var filtered []*event.Event
	for _, evt := range events {
		if f.Matches(evt) {
			filtered = append(filtered, evt)
		}
	}

	return filtered
}

// String returns a human-readable description of the active filter criteria.
// Format: "From: Feb 1, 2026 | To: Feb 15, 2026 | Categories: comedy | Weekends only"
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string

	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("From: %s", f.DateFrom.Time().Format("Jan 2, 2006")))
	}

	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("To: %s", f.DateTo.Time().Format("Jan 2, 2006")))
	}

	if f.DatedOnly {
		parts = append(parts, "Dated only")
	}

	if f.WeekendsOnly {
		parts = append(parts, "Weekends only")
	}

	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			names[i] = string(s)
		}
		parts = append(parts, fmt.Sprintf("Statuses: %s", strings.Join(names, ", ")))
	}

	if len(f.Categories) > 0 {
		parts = append(parts, fmt.Sprintf("Categories: %s", strings.Join(f.Categories, ", ")))
	}

	if len(f.Venues) > 0 {
		parts = append(parts, fmt.Sprintf("Venues: %s", strings.Join(f.Venues, ", ")))
	}

	if len(f.Search) > 0 {
		parts = append(parts, fmt.Sprintf("Search: %s", strings.Join(f.Search, ", ")))
	}

	return strings.Join(parts, " | ")
}

// Clone creates a deep copy of the filter.
func (f *Filter) Clone() *Filter {
	clone := &Filter{
		DatedOnly:    f.DatedOnly,
		WeekendsOnly: f.WeekendsOnly,
		Statuses:     append([]event.Status{}, f.Statuses...),
		Categories:   append([]string{}, f.Categories...),
		Venues:       append([]string{}, f.Venues...),
		Search:       append([]string{}, f.Search...),
	}

	if f.DateFrom != nil {
		df := *f.DateFrom
		clone.DateFrom = &df
	}

	if f.DateTo != nil {
		dt := *f.DateTo
		clone.DateTo = &dt
	}

	return clone
}
