package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/city-events/internal/calendar"
	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/filter"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// Export formats
const (
	exportICS  = "ics"
	exportCSV  = "csv"
	exportJSON = "json"
)

// filterFlags are the filtering flags shared by list and export
type filterFlags struct {
	date       string
	status     string
	dateRange  string
	categories []string
	venues     []string
	search     []string
	weekends   bool
	datedOnly  bool
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Dataset day as YYYY-MM-DD (defaults to the latest stored)")
	cmd.Flags().StringVar(&f.status, "status", "", "Comma-separated statuses: active, upcoming, expired")
	cmd.Flags().StringVar(&f.dateRange, "range", "", "Event dates, e.g. 'Mar 1-15', 'March' or '2026-02-01 to 2026-02-14'")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "Category substring (repeatable)")
	cmd.Flags().StringSliceVar(&f.venues, "venue", nil, "Venue substring (repeatable)")
	cmd.Flags().StringSliceVar(&f.search, "search", nil, "Event name substring (repeatable)")
	cmd.Flags().BoolVar(&f.weekends, "weekends", false, "Only events on Saturday or Sunday")
	cmd.Flags().BoolVar(&f.datedOnly, "dated-only", false, "Drop events whose date is unknown")
}

func (f *filterFlags) build(a *app) (*filter.Filter, error) {
	flt := filter.NewFilter()
	flt.WeekendsOnly = f.weekends
	flt.DatedOnly = f.datedOnly
	flt.Categories = append(flt.Categories, f.categories...)
	flt.Venues = append(flt.Venues, f.venues...)
	flt.Search = append(flt.Search, f.search...)

	statuses, err := filter.ParseStatuses(f.status)
	if err != nil {
		return nil, err
	}
	flt.Statuses = append(flt.Statuses, statuses...)

	if f.dateRange != "" {
		from, to, err := filter.ParseDateRange(f.dateRange, a.now())
		if err != nil {
			return nil, err
		}
		flt.DateFrom, flt.DateTo = from, to
	}
	return flt, nil
}

// loadCity loads the stored dataset of a city and reclassifies it against now.
// Without a day it picks the newest local dataset, falling back to today.
func (a *app) loadCity(ctx context.Context, cityKey, day string) (config.City, storage.Target, *event.Dataset, error) {
	city, err := a.cfg.City(cityKey)
	if err != nil {
		return city, storage.Target{}, nil, err
	}

	target, err := a.resolveTarget(city, day)
	if err != nil {
		return city, target, nil, err
	}

	store, err := storage.Open(ctx, a.cfg.StorageConfig(), a.log)
	if err != nil {
		return city, target, nil, fmt.Errorf("opening storage: %w", err)
	}
	dataset, err := store.Load(ctx, target)
	if err != nil {
		return city, target, nil, fmt.Errorf("loading %s: %w", target.Name(), err)
	}

	dataset.Classify(a.now())
	a.log.Debug("Loaded dataset", logger.Fields{
		"target": target.Name(),
		"store":  store.Name(),
		"events": dataset.Len(),
	})
	return city, target, dataset, nil
}

func (a *app) resolveTarget(city config.City, day string) (storage.Target, error) {
	if day != "" {
		t, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			return storage.Target{}, fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", day)
		}
		return storage.NewTarget(city.Key, t), nil
	}

	local, err := storage.NewCSVStore(a.cfg.Storage.Dir)
	if err != nil {
		return storage.Target{}, err
	}
	targets, err := local.List(city.Key)
	if err != nil {
		return storage.Target{}, err
	}
	if len(targets) > 0 {
		return targets[len(targets)-1], nil
	}
	return storage.NewTarget(city.Key, a.now()), nil
}

func (a *app) listCmd() *cobra.Command {
	var (
		flags     filterFlags
		sortOrder string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "list <city>",
		Short: "List a city's stored events",
		Example: `  city-events list mumbai --status active
  city-events list delhi --range "Mar 1-15" --weekends --sort name
  city-events list bangalore --category comedy --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			order, err := parseSortOrder(sortOrder)
			if err != nil {
				return err
			}
			flt, err := flags.build(a)
			if err != nil {
				return err
			}

			city, _, dataset, err := a.loadCity(cmd.Context(), args[0], flags.date)
			if err != nil {
				return err
			}

			events := flt.Apply(dataset.Events())
			sortEvents(events, order)

			result := &OutputResult{
				CheckedAt:  a.now().UTC(),
				Cities:     []string{city.Key},
				Events:     events,
				EventCount: len(events),
				ShowAll:    true,
			}
			if result.Events == nil {
				result.Events = []*event.Event{}
			}
			if !flt.IsEmpty() {
				result.Filter = flt.String()
			}
			return WriteOutput(a.out, result, outFormat, a.verbose)
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&sortOrder, "sort", string(SortByDate), "Sort by: date, name or venue")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		flags  filterFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <city>",
		Short: "Export a city's stored events as iCalendar, CSV or JSON",
		Example: `  city-events export mumbai --format ics --output mumbai.ics
  city-events export pune --format csv --status upcoming`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			switch format {
			case exportICS, exportCSV, exportJSON:
			default:
				return fmt.Errorf("invalid format: %s (must be 'ics', 'csv' or 'json')", format)
			}
			flt, err := flags.build(a)
			if err != nil {
				return err
			}

			city, _, dataset, err := a.loadCity(cmd.Context(), args[0], flags.date)
			if err != nil {
				return err
			}
			events := flt.Apply(dataset.Events())
			sortEvents(events, SortByDate)

			w := a.out
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if err := a.writeExport(w, format, city, events); err != nil {
				return err
			}
			if output != "" {
				a.log.Info("Exported events", logger.Fields{"city": city.Key, "format": format, "events": len(events), "file": output})
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&format, "format", exportICS, "Export format: ics, csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}

func (a *app) writeExport(w io.Writer, format string, city config.City, events []*event.Event) error {
	switch format {
	case exportICS:
		ics := calendar.GenerateBulkICS(events, fmt.Sprintf("%s Events", cityName(city)), a.now())
		if ics == "" {
			return errors.New("no dated events to export")
		}
		_, err := io.WriteString(w, ics)
		return err
	case exportCSV:
		return storage.EncodeCSV(w, event.NewDataset(events...))
	default:
		if events == nil {
			events = []*event.Event{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(events)
	}
}

func (a *app) citiesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "cities",
		Short: "List the configured cities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}

			if outFormat == FormatJSON {
				type cityInfo struct {
					config.City
					URL string `json:"url"`
				}
				infos := make([]cityInfo, len(a.cfg.Cities))
				for i, city := range a.cfg.Cities {
					infos[i] = cityInfo{City: city, URL: a.cfg.ListingURL(city)}
				}
				encoder := json.NewEncoder(a.out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(infos)
			}

			for _, city := range a.cfg.Cities {
				fmt.Fprintf(a.out, "%-12s %-12s %s\n", city.Key, cityName(city), a.cfg.ListingURL(city))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

func cityName(city config.City) string {
	if city.Name != "" {
		return city.Name
	}
	return city.Key
}
