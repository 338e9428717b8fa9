package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
)

func newCSVWriter(w io.Writer) *csv.Writer { return csv.NewWriter(w) }

func newCSVReader(r io.Reader) *csv.Reader { return csv.NewReader(r) }

// CSVStore keeps one CSV file per target in a local directory
type CSVStore struct {
	dataDir string
	encode  func(w io.Writer, dataset *event.Dataset) error
}

// NewCSVStore creates a CSVStore rooted at dataDir, creating it if needed
func NewCSVStore(dataDir string) (*CSVStore, error) {
	// Expand ~ to home directory
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, dataDir[2:])
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &CSVStore{
		dataDir: dataDir,
		encode:  EncodeCSV,
	}, nil
}

func (s *CSVStore) Name() string { return "csv" }

// Path returns the file backing target
func (s *CSVStore) Path(target Target) string {
	return filepath.Join(s.dataDir, target.Name()+".csv")
}

// Load reads the dataset for target. A missing or empty file is an empty dataset.
func (s *CSVStore) Load(ctx context.Context, target Target) (*event.Dataset, error) {
	f, err := os.Open(s.Path(target))
	if err != nil {
		if os.IsNotExist(err) {
			// No previous dataset, return empty one
			return event.NewDataset(), nil
		}
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	dataset, err := DecodeCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", target.Name(), err)
	}
	return dataset, nil
}

// Save replaces the file for target atomically: the dataset is written to a
// temporary file in the same directory, synced and renamed over the old one.
// On any failure the previous file is left untouched.
func (s *CSVStore) Save(ctx context.Context, target Target, dataset *event.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(target)
	tmp, err := os.CreateTemp(s.dataDir, "."+target.Name()+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := s.encode(tmp, dataset); err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing dataset: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}
	committed = true
	return nil
}

// List returns the targets stored for city, oldest first
func (s *CSVStore) List(city string) ([]Target, error) {
	pattern := filepath.Join(s.dataDir, fmt.Sprintf("events_%s_*.csv", strings.ToLower(city)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}

	targets := make([]Target, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".csv")
		t, err := time.Parse("20060102", name[strings.LastIndex(name, "_")+1:])
		if err != nil {
			continue
		}
		targets = append(targets, Target{City: strings.ToLower(city), Date: event.DateOf(t)})
	}
	return targets, nil
}
