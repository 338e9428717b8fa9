package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/fetch"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/notifier"
	"github.com/pfrederiksen/city-events/internal/pipeline"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/storage"
)

func (a *app) runCmd() *cobra.Command {
	var (
		all      bool
		format   string
		notify   string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "run [city...]",
		Short: "Scrape one or more cities and merge into today's datasets",
		Long: `Scrape the BookMyShow listing of each named city (or every configured
city with --all), merge the events into the city's dataset for today and
report what is new.

Exit codes: 0 nothing new, 1 a city failed or was aborted, 2 new events found.`,
		Example: `  city-events run mumbai
  city-events run mumbai delhi --format json
  city-events run --all --parallel 3 --notify dryrun`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if all {
				if len(args) > 0 {
					return errors.New("cities cannot be named together with --all")
				}
				keys = a.cfg.CityKeys()
			}
			if len(keys) == 0 {
				return errors.New("name at least one city or use --all")
			}

			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			if parallel <= 0 {
				parallel = a.cfg.Schedule.Parallel
			}

			p, err := a.newPipeline(cmd.Context(), notify, nil)
			if err != nil {
				return err
			}

			reports, err := p.RunAll(cmd.Context(), keys, parallel)
			if err != nil {
				return err
			}

			if err := WriteOutput(a.out, NewRunResult(reports, a.now()), outFormat, a.verbose); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			a.exitCode = exitCodeFor(reports)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Run every configured city")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&notify, "notify", "", "Announce new events: none, dryrun or twitter (overrides config)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Cities scraped at once (defaults to schedule.parallel)")

	return cmd
}

// newPipeline wires the configured fetch chain, store and notifier
func (a *app) newPipeline(ctx context.Context, notifyBackend string, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	fc := a.cfg.FetchConfig()
	strategies, err := fetch.New(a.cfg.Fetch.Strategies, fc)
	if err != nil {
		return nil, err
	}
	chain := fetch.NewChain(strategies, fetch.DefaultHeaders(fc), a.cfg.Fetch.Timeout, scraper.CountLinks, a.cfg.Fetch.MinLinks, a.log)

	store, err := storage.Open(ctx, a.cfg.StorageConfig(), a.log)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	n, err := a.newNotifier(notifyBackend)
	if err != nil {
		return nil, err
	}

	a.log.Debug("Pipeline configured", logger.Fields{
		"strategies": chain.Strategies(),
		"store":      store.Name(),
	})

	return pipeline.New(pipeline.Options{
		Cities:      a.cfg.Cities,
		Fetcher:     chain,
		Extractor:   scraper.NewExtractor(a.cfg.Extract.MaxFragments),
		Store:       store,
		Notifier:    n,
		Metrics:     m,
		Logger:      a.log,
		Clock:       a.now,
		BaseURL:     a.cfg.BaseURL,
		ListingPath: a.cfg.ListingPath,
		EventDelay:  a.cfg.Extract.EventDelay,
	})
}

// newNotifier builds the announcer for backend, or the configured one when
// backend is empty. It returns nil when announcements are off.
func (a *app) newNotifier(backend string) (notifier.Notifier, error) {
	if backend == "" {
		backend = a.cfg.Notify.Backend
	}

	switch backend {
	case config.NotifyNone, "":
		return nil, nil
	case config.NotifyDryRun:
		// stdout carries the run output
		return notifier.NewDryRunNotifier(a.errOut), nil
	case config.NotifyTwitter:
		n, err := notifier.NewTwitterNotifier(a.cfg.Notify.Twitter)
		if err != nil {
			return nil, err
		}
		n.SetMaxPosts(a.cfg.Notify.MaxPosts)
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify backend: %q", backend)
	}
}
