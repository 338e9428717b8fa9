package event

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an event relative to the current date
type Status string

const (
	StatusActive   Status = "Active"
	StatusUpcoming Status = "Upcoming"
	StatusExpired  Status = "Expired"
)

// ActiveWindowDays is how far ahead an event still counts as Active
const ActiveWindowDays = 7

// Statuses lists every status in display order
var Statuses = []Status{StatusActive, StatusUpcoming, StatusExpired}

// ParseStatus matches a status name case-insensitively
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// Classify returns the status of an event dated date as of now.
// Unknown dates are treated as Active.
func Classify(date *Date, now time.Time) Status {
	if date == nil {
		return StatusActive
	}

	today := DateOf(now)
	switch {
	case date.Before(today):
		return StatusExpired
	case date.After(today.AddDays(ActiveWindowDays)):
		return StatusUpcoming
	default:
		return StatusActive
	}
}
