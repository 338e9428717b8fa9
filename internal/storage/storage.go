package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/pfrederiksen/city-events/internal/event"
)

// ErrUnavailable marks a backend that cannot be used right now because of
// missing credentials, rejected authentication, quota or connectivity.
// Callers may fall back to another store.
var ErrUnavailable = errors.New("storage backend unavailable")

// TimestampLayout is the format of the last_updated column
const TimestampLayout = "2006-01-02 15:04:05"

// Target names one persisted dataset: a city on a given day
type Target struct {
	City string
	Date event.Date
}

// NewTarget creates the target for city on the calendar day of t
func NewTarget(city string, t time.Time) Target {
	return Target{City: strings.ToLower(city), Date: event.DateOf(t)}
}

// Name returns the dataset name, e.g. "events_mumbai_20260203"
func (t Target) Name() string {
	return fmt.Sprintf("events_%s_%04d%02d%02d", t.City, t.Date.Year, t.Date.Month, t.Date.Day)
}

// Store persists datasets
type Store interface {
	Name() string
	// Load returns the dataset for target, or an empty dataset if none exists
	Load(ctx context.Context, target Target) (*event.Dataset, error)
	// Save replaces the dataset for target as a whole
	Save(ctx context.Context, target Target, dataset *event.Dataset) error
}

// Row is the persisted form of an event, one column per field
type Row struct {
	EventID     string `csv:"event_id"`
	EventName   string `csv:"event_name"`
	EventDate   string `csv:"event_date"`
	EventTime   string `csv:"event_time"`
	Venue       string `csv:"venue"`
	City        string `csv:"city"`
	Category    string `csv:"category"`
	URL         string `csv:"url"`
	Platform    string `csv:"platform"`
	Status      string `csv:"status"`
	LastUpdated string `csv:"last_updated"`
}

// Columns lists the persisted columns in order
var Columns = []string{
	"event_id", "event_name", "event_date", "event_time", "venue", "city",
	"category", "url", "platform", "status", "last_updated",
}

// ToRow converts an event to its persisted form
func ToRow(evt *event.Event) Row {
	return Row{
		EventID:     evt.ID,
		EventName:   evt.Name,
		EventDate:   evt.DateText(),
		EventTime:   evt.TimeText(),
		Venue:       evt.Venue,
		City:        evt.City,
		Category:    evt.Category,
		URL:         evt.URL,
		Platform:    evt.Source,
		Status:      string(evt.Status),
		LastUpdated: evt.LastSeen.Format(TimestampLayout),
	}
}

// Event converts a persisted row back to an event. Unknown or unparsable
// dates become nil; a missing ID is regenerated from the identity fields.
func (r Row) Event() *event.Event {
	evt := &event.Event{
		ID:       r.EventID,
		Name:     r.EventName,
		Date:     event.ParseDate(r.EventDate),
		Venue:    r.Venue,
		City:     r.City,
		Category: r.Category,
		URL:      r.URL,
		Source:   r.Platform,
	}
	if r.EventTime != "" {
		evt.Time = event.ParseClock(r.EventTime)
	}
	if status, ok := event.ParseStatus(r.Status); ok {
		evt.Status = status
	}
	if t, err := time.ParseInLocation(TimestampLayout, r.LastUpdated, time.Local); err == nil {
		evt.LastSeen = t
	}
	if evt.ID == "" {
		evt.ID = event.GenerateID(evt.Name, evt.Date, evt.Venue, evt.City)
	}
	return evt
}

// Rows converts a dataset to rows in dataset order
func Rows(dataset *event.Dataset) []Row {
	events := dataset.Events()
	rows := make([]Row, len(events))
	for i, evt := range events {
		rows[i] = ToRow(evt)
	}
	return rows
}

// DatasetFromRows rebuilds a dataset, keeping the first row for each ID
func DatasetFromRows(rows []Row) *event.Dataset {
	events := make([]*event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.Event())
	}
	return event.NewDataset(events...)
}

// EncodeCSV writes the dataset as CSV with a header row
func EncodeCSV(w io.Writer, dataset *event.Dataset) error {
	return encodeRows(newCSVWriter(w), Rows(dataset))
}

// DecodeCSV reads rows written by EncodeCSV. Empty input is an empty dataset.
func DecodeCSV(r io.Reader) (*event.Dataset, error) {
	rows, err := decodeRows(newCSVReader(r))
	if err != nil {
		return nil, err
	}
	return DatasetFromRows(rows), nil
}

// recordWriter and recordReader are the record-level interfaces csvutil works
// on; the CSV and spreadsheet backends provide their own implementations.
type recordWriter interface {
	csvutil.Writer
	Flush()
	Error() error
}

func encodeRows(w recordWriter, rows []Row) error {
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding row %s: %w", row.EventID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	return nil
}

func decodeRows(r csvutil.Reader) ([]Row, error) {
	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	rows := make([]Row, 0)
	for {
		var row Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
