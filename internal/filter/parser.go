package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
)

const monthPattern = `(jan|january|feb|february|mar|march|apr|april|may|jun|june|jul|july|aug|august|sep|sept|september|oct|october|nov|november|dec|december)`

var (
	// "Mar 1-15" or "March 1-15"
	sameMonthRange = regexp.MustCompile(`(?i)^` + monthPattern + `\s+(\d{1,2})\s*-\s*(\d{1,2})$`)
	// "Mar 1 - Apr 15"
	crossMonthRange = regexp.MustCompile(`(?i)^` + monthPattern + `\s+(\d{1,2})\s*-\s*` + monthPattern + `\s+(\d{1,2})$`)
	// "March"
	wholeMonth = regexp.MustCompile(`(?i)^` + monthPattern + `$`)
	// "2026-02-01 to 2026-02-14" or "2026-02-01..2026-02-14"
	isoRange = regexp.MustCompile(`(?i)^(\d{4}-\d{2}-\d{2})\s*(?:to|\.\.)\s*(\d{4}-\d{2}-\d{2})$`)
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// ParseDateRange parses a date range string into inclusive start and end dates.
//
// Supported formats:
//   - "Mar 1-15" or "March 1-15" - Same month, different days
//   - "March 1 - April 15" - Different months
//   - "March" - Entire month
//   - "2026-02-01 to 2026-02-14" or "2026-02-01..2026-02-14" - Explicit dates
//
// For formats without a year, months before now's month are taken to be
// next year, and a cross-month range ending in an earlier month wraps into
// the following year.
func ParseDateRange(input string, now time.Time) (*event.Date, *event.Date, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil, fmt.Errorf("date range cannot be empty")
	}

	if m := isoRange.FindStringSubmatch(input); m != nil {
		from, to := event.ParseDate(m[1]), event.ParseDate(m[2])
		if from == nil || to == nil {
			return nil, nil, fmt.Errorf("invalid date in range: %s", input)
		}
		return ordered(*from, *to)
	}

	if m := sameMonthRange.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		day2, err := parseDay(m[3])
		if err != nil {
			return nil, nil, err
		}

		year := yearForMonth(month, now)
		return ordered(event.Date{Year: year, Month: month, Day: day1}, event.Date{Year: year, Month: month, Day: day2})
	}

	if m := crossMonthRange.FindStringSubmatch(input); m != nil {
		month1, month2 := parseMonth(m[1]), parseMonth(m[3])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		day2, err := parseDay(m[4])
		if err != nil {
			return nil, nil, err
		}

		year1 := yearForMonth(month1, now)
		year2 := year1
		// If month2 < month1, assume month2 is in the next year
		if month2 < month1 {
			year2++
		}
		return ordered(event.Date{Year: year1, Month: month1, Day: day1}, event.Date{Year: year2, Month: month2, Day: day2})
	}

	if m := wholeMonth.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		year := yearForMonth(month, now)
		from := event.NewDate(year, month, 1)
		// Last day of month
		to := event.NewDate(year, month+1, 0)
		return &from, &to, nil
	}

	return nil, nil, fmt.Errorf("invalid date range format. Use 'Mar 1-15', 'March 1 - April 15', 'March' or '2026-02-01 to 2026-02-14'")
}

// ParseStatuses parses a comma-separated status list such as "active,upcoming"
func ParseStatuses(input string) ([]event.Status, error) {
	var statuses []event.Status
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status, ok := event.ParseStatus(part)
		if !ok {
			return nil, fmt.Errorf("invalid status %q (want active, upcoming or expired)", part)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func ordered(from, to event.Date) (*event.Date, *event.Date, error) {
	if from.After(to) {
		return nil, nil, fmt.Errorf("start date must be before end date")
	}
	return &from, &to, nil
}

// parseMonth converts a month name to time.Month, 0 if unknown
func parseMonth(name string) time.Month {
	return months[strings.ToLower(strings.TrimSpace(name))]
}

func parseDay(s string) (int, error) {
	day, err := strconv.Atoi(s)
	if err != nil || day < 1 || day > 31 {
		return 0, fmt.Errorf("invalid day: %s", s)
	}
	return day, nil
}

// yearForMonth returns now's year, or the next one if month has passed
func yearForMonth(month time.Month, now time.Time) int {
	year := now.Year()
	if month < now.Month() {
		year++
	}
	return year
}
