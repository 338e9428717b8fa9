package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/pipeline"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func parseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// OutputResult contains data to be output. Run results carry the per-city
// reports and the newly discovered events; listings set ShowAll and carry
// every matching event instead.
type OutputResult struct {
	CheckedAt  time.Time                 `json:"checked_at"`
	Cities     []string                  `json:"cities"`
	Runs       []*pipeline.Report        `json:"runs,omitempty"`
	Events     []*event.Event            `json:"events"`
	EventCount int                       `json:"event_count"`
	ByCity     map[string][]*event.Event `json:"by_city,omitempty"`
	Filter     string                    `json:"filter,omitempty"`
	ShowAll    bool                      `json:"show_all,omitempty"`
}

// NewRunResult collects the new events of a batch of city runs
func NewRunResult(reports []*pipeline.Report, checkedAt time.Time) *OutputResult {
	result := &OutputResult{
		CheckedAt: checkedAt.UTC(),
		Runs:      reports,
		Events:    []*event.Event{},
		ByCity:    make(map[string][]*event.Event),
	}
	for _, r := range reports {
		result.Cities = append(result.Cities, r.City)
		if len(r.NewEvents) == 0 {
			continue
		}
		result.Events = append(result.Events, r.NewEvents...)
		result.ByCity[r.City] = r.NewEvents
	}
	result.EventCount = len(result.Events)
	return result
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result *OutputResult, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeText(w, result, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, result *OutputResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// writeText outputs results as human-readable text
func writeText(w io.Writer, result *OutputResult, verbose bool) error {
	if result.ShowAll {
		return writeListing(w, result, verbose)
	}

	for _, r := range result.Runs {
		fmt.Fprintln(w, runSummary(r))
		for _, evt := range r.NewEvents {
			fmt.Fprintf(w, "  NEW: %s\n", eventLine(evt))
			if verbose {
				writeDetails(w, evt, "       ")
			}
		}
	}

	if result.EventCount == 0 {
		fmt.Fprintln(w, "\nNo new events found.")
		return nil
	}

	cities := make([]string, 0, len(result.ByCity))
	for city := range result.ByCity {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	fmt.Fprintf(w, "\nTotal: %d new across %d cities (%s)\n", result.EventCount, len(cities), strings.Join(cities, ", "))
	return nil
}

func writeListing(w io.Writer, result *OutputResult, verbose bool) error {
	if result.Filter != "" {
		fmt.Fprintf(w, "Filters: %s\n\n", result.Filter)
	}
	if result.EventCount == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}

	for _, evt := range result.Events {
		fmt.Fprintf(w, "[%s] %s\n", evt.Status, eventLine(evt))
		if verbose {
			writeDetails(w, evt, "     ")
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", result.EventCount)
	return nil
}

// runSummary is the one-line outcome of a city run
func runSummary(r *pipeline.Report) string {
	switch r.State {
	case pipeline.StateDone:
		line := fmt.Sprintf("%s: %d new, %d total", r.City, r.New, r.Total)
		if r.Strategy != "" {
			line += fmt.Sprintf(" (via %s)", r.Strategy)
		}
		return line
	case pipeline.StateAborted:
		return fmt.Sprintf("%s: aborted (%s), kept %d stored events", r.City, r.Outcome, r.Total)
	default:
		return fmt.Sprintf("%s: failed: %s", r.City, r.Error)
	}
}

// eventLine formats an event as "Name - 2026-02-14 19:30 @ Venue [Category]"
func eventLine(evt *event.Event) string {
	when := evt.DateText()
	if evt.Time != nil {
		when += " " + evt.Time.String()
	}

	line := fmt.Sprintf("%s - %s", evt.Name, when)
	if evt.Venue != event.DefaultVenue {
		line += " @ " + evt.Venue
	}
	if evt.Category != event.DefaultCategory {
		line += fmt.Sprintf(" [%s]", evt.Category)
	}
	return line
}

func writeDetails(w io.Writer, evt *event.Event, indent string) {
	fmt.Fprintf(w, "%sID: %s\n", indent, evt.ID)
	if evt.URL != "" {
		fmt.Fprintf(w, "%sURL: %s\n", indent, evt.URL)
	}
	fmt.Fprintf(w, "%sLast seen: %s\n", indent, evt.LastSeen.Format(time.RFC3339))
}

// exitCodeFor maps run reports to the process exit code: any run that did
// not finish is an error, otherwise new events are signalled with 2.
func exitCodeFor(reports []*pipeline.Report) int {
	code := ExitSuccess
	for _, r := range reports {
		if r == nil || r.State != pipeline.StateDone {
			return ExitError
		}
		if r.New > 0 {
			code = ExitNewEvents
		}
	}
	return code
}
