package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/city-events/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate  SortOrder = "date"
	SortByName  SortOrder = "name"
	SortByVenue SortOrder = "venue"
)

func parseSortOrder(s string) (SortOrder, error) {
	order := SortOrder(strings.ToLower(strings.TrimSpace(s)))
	switch order {
	case SortByDate, SortByName, SortByVenue:
		return order, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'date', 'name' or 'venue')", s)
}

// sortEvents sorts a slice of events based on the specified sort order
func sortEvents(events []*event.Event, sortOrder SortOrder) {
	switch sortOrder {
	case SortByDate:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByDate(events[i], events[j])
		})
	case SortByName:
		sort.SliceStable(events, func(i, j int) bool {
			ni, nj := strings.ToLower(events[i].Name), strings.ToLower(events[j].Name)
			if ni != nj {
				return ni < nj
			}
			return compareByDate(events[i], events[j])
		})
	case SortByVenue:
		sort.SliceStable(events, func(i, j int) bool {
			vi, vj := strings.ToLower(events[i].Venue), strings.ToLower(events[j].Venue)
			if vi != vj {
				return vi < vj
			}
			// If venues are equal, sort by date
			return compareByDate(events[i], events[j])
		})
	}
}

// compareByDate compares two events by their date and time of day.
// Returns true if event i should come before event j; events with an
// unknown date go last.
func compareByDate(i, j *event.Event) bool {
	if i.Date != nil && j.Date != nil {
		if *i.Date != *j.Date {
			return i.Date.Before(*j.Date)
		}
		if ti, tj := minutes(i.Time), minutes(j.Time); ti != tj {
			return ti < tj
		}
	}

	// If only one date is valid, put the valid one first
	if i.Date != nil && j.Date == nil {
		return true
	}
	if i.Date == nil && j.Date != nil {
		return false
	}

	return strings.ToLower(i.Name) < strings.ToLower(j.Name)
}

// minutes returns the minute of the day, -1 when unknown so untimed events lead
func minutes(c *event.Clock) int {
	if c == nil {
		return -1
	}
	return c.Hour*60 + c.Minute
}
