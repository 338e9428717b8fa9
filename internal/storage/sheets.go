package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/pfrederiksen/city-events/internal/event"
)

// lastColumn is the spreadsheet column of the final persisted field
const lastColumn = "K"

// SheetsStore keeps one tab per target in a Google spreadsheet
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
}

// NewSheetsStore creates a SheetsStore authenticated with a service account
// key file. Missing or invalid credentials are reported as ErrUnavailable.
func NewSheetsStore(ctx context.Context, spreadsheetID, credentialsFile string) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id not configured", ErrUnavailable)
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading credentials: %v", ErrUnavailable, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing credentials: %v", ErrUnavailable, err)
	}

	return newSheetsStore(ctx, spreadsheetID, option.WithCredentials(creds))
}

func newSheetsStore(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsStore, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating sheets client: %v", ErrUnavailable, err)
	}
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (s *SheetsStore) Name() string { return "sheets" }

// Load reads the tab for target. A missing tab is an empty dataset.
func (s *SheetsStore) Load(ctx context.Context, target Target) (*event.Dataset, error) {
	tab := target.Name()
	exists, err := s.hasTab(ctx, tab)
	if err != nil {
		return nil, err
	}
	if !exists {
		return event.NewDataset(), nil
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(tab, "A1:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return nil, classify("reading sheet", err)
	}

	rows, err := decodeRows(&records{rows: toRecords(resp.Values), width: len(Columns)})
	if err != nil {
		return nil, fmt.Errorf("parsing sheet %s: %w", tab, err)
	}
	return DatasetFromRows(rows), nil
}

// Save writes header and rows to the tab for target in a single update.
// Rows left over from a longer previous dataset are overwritten with blanks.
func (s *SheetsStore) Save(ctx context.Context, target Target, dataset *event.Dataset) error {
	tab := target.Name()
	exists, err := s.hasTab(ctx, tab)
	if err != nil {
		return err
	}

	previous := 0
	if exists {
		resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(tab, "A:A")).Context(ctx).Do()
		if err != nil {
			return classify("reading sheet", err)
		}
		previous = len(resp.Values)
	} else if err := s.addTab(ctx, tab); err != nil {
		return err
	}

	out := &records{}
	if err := encodeRows(out, Rows(dataset)); err != nil {
		return err
	}

	values := make([][]interface{}, max(len(out.rows), previous))
	for i := range values {
		row := make([]interface{}, len(Columns))
		for j := range row {
			row[j] = ""
			if i < len(out.rows) {
				row[j] = out.rows[i][j]
			}
		}
		values[i] = row
	}

	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(tab, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify("writing sheet", err)
	}
	return nil
}

func (s *SheetsStore) hasTab(ctx context.Context, tab string) (bool, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return false, classify("reading spreadsheet", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == tab {
			return true, nil
		}
	}
	return false, nil
}

func (s *SheetsStore) addTab(ctx context.Context, tab string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: tab},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify("adding sheet", err)
	}
	return nil
}

// a1 builds a quoted A1 range such as 'events_mumbai_20260203'!A1:K
func a1(tab, cells string) string {
	return fmt.Sprintf("'%s'!%s", tab, cells)
}

// classify marks auth, quota, server and transport failures as ErrUnavailable
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401, apiErr.Code == 403, apiErr.Code == 429, apiErr.Code >= 500:
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toRecords(values [][]interface{}) [][]string {
	out := make([][]string, 0, len(values))
	for _, v := range values {
		rec := make([]string, len(v))
		for i, cell := range v {
			rec[i] = fmt.Sprint(cell)
		}
		out = append(out, rec)
	}
	return out
}

// records adapts an in-memory table to csvutil's reader and writer.
// Reads pad short rows to width, since the spreadsheet API drops trailing
// empty cells, and skip rows that are entirely blank.
type records struct {
	rows  [][]string
	width int
	pos   int
}

func (r *records) Write(rec []string) error {
	r.rows = append(r.rows, append([]string(nil), rec...))
	return nil
}

func (r *records) Flush() {}

func (r *records) Error() error { return nil }

func (r *records) Read() ([]string, error) {
	for r.pos < len(r.rows) {
		rec := r.rows[r.pos]
		r.pos++
		if blank(rec) {
			continue
		}
		for len(rec) < r.width {
			rec = append(rec, "")
		}
		return rec, nil
	}
	return nil, io.EOF
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if cell != "" {
			return false
		}
	}
	return true
}
