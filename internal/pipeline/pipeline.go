package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/fetch"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/notifier"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// State is a step of a city run
type State string

const (
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateMerging     State = "merging"
	StateClassifying State = "classifying"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateAborted     State = "aborted" // no strategy produced usable content
	StateFailed      State = "failed"  // nothing was persisted
)

// Run outcomes, used in reports and as the metrics label
const (
	OutcomeSuccess     = "success"
	OutcomeUnreachable = "unreachable" // no strategy got a response body
	OutcomeNoEvents    = "no_events"   // pages came back without event links
	OutcomeFailed      = "failed"
	OutcomeCancelled   = "cancelled"
)

// Fetcher retrieves a listing page. *fetch.Chain implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Extractor splits a listing page into fragments. *scraper.Extractor implements it.
type Extractor interface {
	Extract(r io.Reader) ([]scraper.Fragment, error)
}

// Options configures a Pipeline
type Options struct {
	Cities    []config.City
	Fetcher   Fetcher
	Extractor Extractor
	Store     storage.Store
	Notifier  notifier.Notifier // optional
	Metrics   *metrics.Metrics  // optional
	Logger    *logger.Logger
	Clock     func() time.Time

	BaseURL     string
	ListingPath string // {code} is replaced with the city code
	EventDelay  time.Duration
}

// Pipeline scrapes cities into their stored datasets
type Pipeline struct {
	opts Options
	log  *logger.Logger

	mu      sync.Mutex
	running map[string]chan struct{} // city key → one-slot semaphore
}

// Report describes one city run
type Report struct {
	RunID     string               `json:"run_id"`
	City      string               `json:"city"`
	Target    string               `json:"target"`
	State     State                `json:"state"`
	Outcome   string               `json:"outcome"`
	Strategy  string               `json:"strategy,omitempty"`
	Attempts  []fetch.Attempt      `json:"-"`
	Fragments int                  `json:"fragments"`
	Dropped   int                  `json:"dropped"`
	New       int                  `json:"new"`
	Retained  int                  `json:"retained"`
	Total     int                  `json:"total"`
	Statuses  map[event.Status]int `json:"statuses,omitempty"`
	NewEvents []*event.Event       `json:"new_events,omitempty"`
	Started   time.Time            `json:"started"`
	Duration  time.Duration        `json:"duration"`
	Err       error                `json:"-"`
	Error     string               `json:"error,omitempty"`
}

// New creates a Pipeline
func New(opts Options) (*Pipeline, error) {
	if len(opts.Cities) == 0 {
		return nil, errors.New("pipeline needs at least one city")
	}
	if opts.Fetcher == nil || opts.Extractor == nil || opts.Store == nil {
		return nil, errors.New("pipeline needs a fetcher, an extractor and a store")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		opts:    opts,
		log:     opts.Logger,
		running: make(map[string]chan struct{}),
	}, nil
}

// City looks up a configured city by key
func (p *Pipeline) City(key string) (config.City, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, city := range p.opts.Cities {
		if strings.ToLower(city.Key) == key {
			return city, nil
		}
	}
	return config.City{}, fmt.Errorf("%w: %q", config.ErrUnknownCity, key)
}

func (p *Pipeline) listingURL(city config.City) string {
	return strings.TrimRight(p.opts.BaseURL, "/") + strings.ReplaceAll(p.opts.ListingPath, "{code}", city.Code)
}

// Run scrapes one city and persists its merged dataset.
//
// The stored dataset is read once at the start and written once at the end.
// When every fetch strategy fails the prior dataset is written back unchanged
// and the report ends Aborted with a nil error. A persistence failure or a
// cancelled ctx ends Failed with the error; a cancelled run writes nothing.
//
// Runs of the same city are serialized: a second run waits until the first
// has persisted and then loads its result.
func (p *Pipeline) Run(ctx context.Context, cityKey string) (*Report, error) {
	city, err := p.City(cityKey)
	if err != nil {
		return nil, err
	}

	release, waitErr := p.acquire(ctx, city.Key)
	if waitErr == nil {
		defer release()
	}

	now := p.opts.Clock()
	target := storage.NewTarget(city.Key, now)
	report := &Report{
		RunID:   uuid.NewString(),
		City:    city.Key,
		Target:  target.Name(),
		Started: now,
	}
	log := p.log.With(logger.Fields{"run_id": report.RunID, "city": city.Key})
	start := time.Now()

	if waitErr != nil {
		report.State = StateFailed
		report.Outcome = OutcomeCancelled
		err = waitErr
	} else {
		err = p.run(ctx, city, target, report, log)
	}

	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		report.Error = err.Error()
	}
	p.opts.Metrics.RunFinished(city.Key, report.Outcome, report.New, report.Total,
		report.State == StateDone || report.State == StateAborted, report.Duration)

	fields := logger.Fields{
		"state":       report.State,
		"outcome":     report.Outcome,
		"new":         report.New,
		"total":       report.Total,
		"duration_ms": report.Duration.Milliseconds(),
	}
	switch report.State {
	case StateDone:
		log.Info("City run completed", fields)
	case StateAborted:
		log.Warn("City run aborted, prior data kept", fields, nil)
	default:
		log.Error("City run failed", fields, err)
	}
	return report, err
}

// acquire takes the city's run slot, waiting for a run in progress.
// The returned func gives the slot back.
func (p *Pipeline) acquire(ctx context.Context, key string) (func(), error) {
	key = strings.ToLower(key)
	p.mu.Lock()
	slot, ok := p.running[key]
	if !ok {
		slot = make(chan struct{}, 1)
		p.running[key] = slot
	}
	p.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context, city config.City, target storage.Target, report *Report, log *logger.Logger) error {
	transition := func(s State) error {
		if err := ctx.Err(); err != nil {
			report.State = StateFailed
			report.Outcome = OutcomeCancelled
			return err
		}
		report.State = s
		log.Debug("Pipeline state", logger.Fields{"state": s})
		return nil
	}
	fail := func(err error) error {
		report.State = StateFailed
		report.Outcome = OutcomeFailed
		return err
	}

	existing, err := p.opts.Store.Load(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return transition(StateFailed)
		}
		return fail(fmt.Errorf("loading %s: %w", target.Name(), err))
	}

	if err := transition(StateFetching); err != nil {
		return err
	}
	url := p.listingURL(city)
	result, err := p.opts.Fetcher.Fetch(ctx, url)
	if result != nil {
		report.Attempts = result.Attempts
		for _, a := range result.Attempts {
			p.opts.Metrics.FetchAttempt(a.Strategy, a.OK)
		}
	}
	if ctx.Err() != nil {
		return transition(StateFailed)
	}
	if err != nil {
		report.Outcome = OutcomeNoEvents
		if !result.Reached() {
			report.Outcome = OutcomeUnreachable
		}
		log.Warn("No usable listing content", logger.Fields{"url": url, "outcome": report.Outcome}, err)

		// keep prior data and leave a valid dataset behind for this target
		if err := p.opts.Store.Save(ctx, target, existing); err != nil {
			return fail(fmt.Errorf("saving %s: %w", target.Name(), err))
		}
		report.State = StateAborted
		report.Total = existing.Len()
		report.Statuses = existing.StatusCounts()
		return nil
	}
	report.Strategy = result.Strategy

	if err := transition(StateExtracting); err != nil {
		return err
	}
	fragments, err := p.opts.Extractor.Extract(bytes.NewReader(result.Content))
	if err != nil {
		log.Warn("Extraction failed, continuing with no fragments", nil, err)
		fragments = nil
	}
	report.Fragments = len(fragments)

	if err := transition(StateNormalizing); err != nil {
		return err
	}
	batch, err := p.normalize(ctx, city, fragments, log)
	if err != nil {
		report.State = StateFailed
		report.Outcome = OutcomeCancelled
		return err
	}
	report.Dropped = len(fragments) - len(batch)

	if err := transition(StateMerging); err != nil {
		return err
	}
	merged := event.Merge(existing, batch)
	if len(merged.Retained) > 0 {
		// keep-first: re-observed events keep their stored fields and last_seen
		log.Debug("Stored events observed again", logger.Fields{"retained": len(merged.Retained)})
	}

	if err := transition(StateClassifying); err != nil {
		return err
	}
	merged.Dataset.Classify(p.opts.Clock())

	if err := transition(StatePersisting); err != nil {
		return err
	}
	if err := p.opts.Store.Save(ctx, target, merged.Dataset); err != nil {
		if ctx.Err() != nil {
			return transition(StateFailed)
		}
		return fail(fmt.Errorf("saving %s: %w", target.Name(), err))
	}

	report.State = StateDone
	report.Outcome = OutcomeSuccess
	report.New = len(merged.New)
	report.Retained = len(merged.Retained)
	report.Total = merged.Dataset.Len()
	report.Statuses = merged.Dataset.StatusCounts()
	report.NewEvents = merged.New

	if p.opts.Notifier != nil && len(merged.New) > 0 {
		if err := p.opts.Notifier.Notify(ctx, merged.New); err != nil {
			log.Warn("Failed to announce new events", logger.Fields{"new": len(merged.New)}, err)
		}
	}
	return nil
}

// normalize converts fragments to events, pausing EventDelay between them
func (p *Pipeline) normalize(ctx context.Context, city config.City, fragments []scraper.Fragment, log *logger.Logger) ([]*event.Event, error) {
	normalizer, err := scraper.NewNormalizer(p.opts.BaseURL, cityName(city), p.opts.Clock)
	if err != nil {
		return nil, err
	}

	batch := make([]*event.Event, 0, len(fragments))
	for i, f := range fragments {
		if i > 0 && p.opts.EventDelay > 0 {
			if err := sleep(ctx, p.opts.EventDelay); err != nil {
				return nil, err
			}
		}
		evt, ok := normalizer.Normalize(f)
		if !ok {
			log.Debug("Dropped fragment without a name", logger.Fields{"href": f.Href})
			continue
		}
		batch = append(batch, evt)
	}
	return batch, nil
}

// RunAll runs the given cities independently, at most parallel at a time.
// A failing city does not stop the others; each report carries its own
// error. A city named twice runs once. Reports are returned in key order.
func (p *Pipeline) RunAll(ctx context.Context, keys []string, parallel int) ([]*Report, error) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		city, err := p.City(key)
		if err != nil {
			return nil, err
		}
		if k := strings.ToLower(city.Key); !seen[k] {
			seen[k] = true
			unique = append(unique, city.Key)
		}
	}
	keys = unique
	if parallel <= 0 {
		parallel = 1
	}

	reports := make([]*Report, len(keys))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, key := range keys {
		g.Go(func() error {
			// errors stay in the report so one city cannot cancel the rest
			reports[i], _ = p.Run(ctx, key)
			return nil
		})
	}
	g.Wait()

	return reports, nil
}

func cityName(city config.City) string {
	if city.Name != "" {
		return city.Name
	}
	return city.Key
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
