package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order; the first successful parse wins.
// ISO, "15 Feb 2026", "15/02/2026" (day first), "Feb 15, 2026".
var dateLayouts = []string{
	"2006-01-02",
	"2 Jan 2006",
	"2/1/2006",
	"Jan 2, 2006",
}

// Date is a calendar date without time of day or zone
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date, normalizing out-of-range values the way time.Date does
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's location
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the date
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (or earlier for negative n)
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly before o
func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

// After reports whether d is strictly after o
func (d Date) After(o Date) bool {
	return d.Time().After(o.Time())
}

// String formats the date as YYYY-MM-DD
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MarshalJSON encodes the date as an ISO string
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes an ISO date string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	*d = DateOf(t)
	return nil
}

// ParseDate attempts to parse date text against the supported layouts.
// Returns nil if no layout matches.
func ParseDate(text string) *Date {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, text)
		if err == nil {
			d := DateOf(t)
			return &d
		}
	}

	return nil
}

// Clock is a best-effort time of day
type Clock struct {
	Hour   int
	Minute int
}

// String formats the clock as HH:MM (24h)
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalJSON encodes the clock as HH:MM
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes an HH:MM string
func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed := ParseClock(s)
	if parsed == nil {
		return fmt.Errorf("parsing clock %q", s)
	}
	*c = *parsed
	return nil
}

var clockPattern = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)

// ParseClock finds the first clock time in text, e.g. "7:30 PM" or "19:30".
// Returns nil when none is found or the values are out of range.
func ParseClock(text string) *Clock {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	switch strings.ToLower(m[3]) {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}

	if hour > 23 || minute > 59 {
		return nil
	}
	return &Clock{Hour: hour, Minute: minute}
}
