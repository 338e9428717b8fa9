package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
)

// Listing times are Indian Standard Time
var listingZone = time.FixedZone("IST", 5*60*60+30*60)

// timedDuration is assumed for events with a start time
const timedDuration = 3 * time.Hour

// maxLineOctets is the RFC 5545 content line limit before folding
const maxLineOctets = 75

// GenerateICS generates an iCalendar (.ics) file for one event.
// Events without a known date return an empty string.
func GenerateICS(evt *event.Event, now time.Time) string {
	if evt == nil || evt.Date == nil {
		return ""
	}

	var ics strings.Builder
	writeHeader(&ics, "")
	writeEvent(&ics, evt, now)
	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

// GenerateBulkICS generates a single calendar holding every dated event.
// Events with unknown dates are left out; if none remain the result is empty.
func GenerateBulkICS(events []*event.Event, calendarName string, now time.Time) string {
	dated := make([]*event.Event, 0, len(events))
	for _, evt := range events {
		if evt != nil && evt.Date != nil {
			dated = append(dated, evt)
		}
	}
	if len(dated) == 0 {
		return ""
	}

	var ics strings.Builder
	writeHeader(&ics, calendarName)
	for _, evt := range dated {
		writeEvent(&ics, evt, now)
	}
	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

func writeHeader(ics *strings.Builder, calendarName string) {
	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString("PRODID:-//City Events//city-events//EN\r\n")
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	if calendarName != "" {
		writeLine(ics, "X-WR-CALNAME:"+escapeICS(calendarName))
	}
}

func writeEvent(ics *strings.Builder, evt *event.Event, now time.Time) {
	ics.WriteString("BEGIN:VEVENT\r\n")
	writeLine(ics, fmt.Sprintf("UID:%s@city-events", evt.ID))
	writeLine(ics, "DTSTAMP:"+formatICSTime(now))

	d := *evt.Date
	if evt.Time != nil {
		start := time.Date(d.Year, d.Month, d.Day, evt.Time.Hour, evt.Time.Minute, 0, 0, listingZone)
		writeLine(ics, "DTSTART:"+formatICSTime(start))
		writeLine(ics, "DTEND:"+formatICSTime(start.Add(timedDuration)))
	} else {
		// all-day event; DTEND is exclusive
		writeLine(ics, "DTSTART;VALUE=DATE:"+formatICSDate(d))
		writeLine(ics, "DTEND;VALUE=DATE:"+formatICSDate(d.AddDays(1)))
	}

	writeLine(ics, "SUMMARY:"+escapeICS(evt.Name))

	description := fmt.Sprintf("%s in %s", evt.Category, evt.City)
	if evt.URL != "" {
		description += "\n\nTickets: " + evt.URL
	}
	writeLine(ics, "DESCRIPTION:"+escapeICS(description))

	location := evt.City
	if evt.Venue != "" && evt.Venue != event.DefaultVenue {
		location = evt.Venue + ", " + evt.City
	}
	writeLine(ics, "LOCATION:"+escapeICS(location))
	if evt.Category != "" {
		writeLine(ics, "CATEGORIES:"+escapeICS(evt.Category))
	}
	if evt.URL != "" {
		writeLine(ics, "URL:"+evt.URL)
	}

	ics.WriteString("STATUS:CONFIRMED\r\n")
	ics.WriteString("SEQUENCE:0\r\n")
	ics.WriteString("TRANSP:OPAQUE\r\n")
	ics.WriteString("END:VEVENT\r\n")
}

// writeLine writes a content line, folding it at 75 octets without
// splitting a UTF-8 sequence
func writeLine(ics *strings.Builder, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		ics.WriteString(line[:cut])
		ics.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineOctets - 1 // continuation lines start with a space
	}
	ics.WriteString(line)
	ics.WriteString("\r\n")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func formatICSDate(d event.Date) string {
	return d.Time().Format("20060102")
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// Replace special characters according to RFC 5545
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
