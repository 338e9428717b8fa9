package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/fetch"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/storage"
)

var (
	firstRun  = time.Date(2026, 2, 15, 10, 0, 0, 0, time.Local)
	secondRun = time.Date(2026, 2, 15, 18, 0, 0, 0, time.Local)
)

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../../testdata/fixtures/listing_mumbai.html")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}
	return data
}

// fakeFetcher returns a canned result
type fakeFetcher struct {
	mu     sync.Mutex
	result *fetch.Result
	err    error
	urls   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.result, f.err
}

func okFetcher(content []byte) *fakeFetcher {
	return &fakeFetcher{result: &fetch.Result{
		Content:  content,
		Strategy: fetch.NameFingerprint,
		Attempts: []fetch.Attempt{{Strategy: fetch.NameFingerprint, OK: true, StatusCode: 200, Bytes: len(content), Links: 4}},
	}}
}

// memStore keeps datasets in memory
type memStore struct {
	mu      sync.Mutex
	data    map[string]*event.Dataset
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*event.Dataset)}
}

func (m *memStore) Name() string { return "mem" }

func (m *memStore) Load(ctx context.Context, target storage.Target) (*event.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[target.Name()]; ok {
		return event.NewDataset(d.Events()...), nil
	}
	return event.NewDataset(), nil
}

func (m *memStore) Save(ctx context.Context, target storage.Target, d *event.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[target.Name()] = d
	return nil
}

// recordingNotifier remembers what it was asked to announce
type recordingNotifier struct {
	events []*event.Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, events []*event.Event) error {
	r.events = append(r.events, events...)
	return r.err
}

func newPipeline(t *testing.T, f Fetcher, store storage.Store, now time.Time, opts ...func(*Options)) *Pipeline {
	t.Helper()
	o := Options{
		Cities:      config.DefaultCities(),
		Fetcher:     f,
		Extractor:   scraper.NewExtractor(scraper.DefaultMaxFragments),
		Store:       store,
		Logger:      logger.Discard(),
		Clock:       func() time.Time { return now },
		BaseURL:     "https://in.bookmyshow.com",
		ListingPath: "/explore/events-{code}",
	}
	for _, opt := range opts {
		opt(&o)
	}
	p, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestRun_Success(t *testing.T) {
	store := newMemStore()
	fetcher := okFetcher(loadFixture(t))
	notify := &recordingNotifier{}
	m := metrics.New()
	p := newPipeline(t, fetcher, store, firstRun, func(o *Options) {
		o.Notifier = notify
		o.Metrics = m
	})

	report, err := p.Run(context.Background(), "Mumbai")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != StateDone || report.Outcome != OutcomeSuccess {
		t.Errorf("state = %s outcome = %s, want done/success", report.State, report.Outcome)
	}
	if report.RunID == "" {
		t.Error("RunID is empty")
	}
	if fetcher.urls[0] != "https://in.bookmyshow.com/explore/events-mumbai" {
		t.Errorf("fetched %q", fetcher.urls[0])
	}
	if report.Fragments != 4 || report.New != 4 || report.Total != 4 || report.Dropped != 0 {
		t.Errorf("report counts = %+v", report)
	}

	// 2026-02-15: sunburn (14th) expired, zakir (20th) active, pottery (Mar 1) upcoming, TBD active
	want := map[event.Status]int{event.StatusExpired: 1, event.StatusActive: 2, event.StatusUpcoming: 1}
	for status, n := range want {
		if report.Statuses[status] != n {
			t.Errorf("Statuses[%s] = %d, want %d", status, report.Statuses[status], n)
		}
	}

	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	saved := store.data["events_mumbai_20260215"]
	if saved == nil || saved.Len() != 4 {
		t.Fatalf("saved dataset = %v", saved)
	}
	if saved.Events()[0].City != "Mumbai" {
		t.Errorf("City = %q, want display name", saved.Events()[0].City)
	}

	if len(notify.events) != 4 {
		t.Errorf("notified %d events, want 4", len(notify.events))
	}
	if got, err := testutil.GatherAndCount(m.Registry(), "city_events_runs_total"); err != nil || got != 1 {
		t.Errorf("runs_total series = %d (err %v), want 1", got, err)
	}
}

func TestRun_KeepFirst(t *testing.T) {
	store := newMemStore()
	content := loadFixture(t)

	if _, err := newPipeline(t, okFetcher(content), store, firstRun).Run(context.Background(), "mumbai"); err != nil {
		t.Fatal(err)
	}

	notify := &recordingNotifier{}
	p := newPipeline(t, okFetcher(content), store, secondRun, func(o *Options) { o.Notifier = notify })
	report, err := p.Run(context.Background(), "mumbai")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if report.New != 0 || report.Retained != 4 || report.Total != 4 {
		t.Errorf("second run new=%d retained=%d total=%d, want 0/4/4", report.New, report.Retained, report.Total)
	}
	for _, evt := range store.data[report.Target].Events() {
		if !evt.LastSeen.Equal(firstRun) {
			t.Errorf("%s last_seen = %v, want first capture %v", evt.Name, evt.LastSeen, firstRun)
		}
	}
	if len(notify.events) != 0 {
		t.Errorf("notified %d events on a run with nothing new", len(notify.events))
	}
}

func TestRun_Aborted(t *testing.T) {
	prior := event.NewEvent("Prior Event", nil, "", "Mumbai", "", "", firstRun)

	tests := []struct {
		name        string
		attempts    []fetch.Attempt
		wantOutcome string
	}{
		{
			name: "unreachable",
			attempts: []fetch.Attempt{
				{Strategy: fetch.NameFingerprint, Err: errors.New("connection refused")},
				{Strategy: fetch.NameRetry, StatusCode: 503, Err: &fetch.StatusError{Code: 503}},
			},
			wantOutcome: OutcomeUnreachable,
		},
		{
			name: "no events",
			attempts: []fetch.Attempt{
				{Strategy: fetch.NameFingerprint, StatusCode: 200, Bytes: 5120, Err: errors.New("found 0 event links, need 1")},
			},
			wantOutcome: OutcomeNoEvents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			target := storage.NewTarget("mumbai", firstRun)
			store.data[target.Name()] = event.NewDataset(prior)

			fetcher := &fakeFetcher{result: &fetch.Result{Attempts: tt.attempts}, err: fetch.ErrNoContent}
			report, err := newPipeline(t, fetcher, store, firstRun).Run(context.Background(), "mumbai")
			if err != nil {
				t.Fatalf("Run() error = %v, want nil for an aborted run", err)
			}

			if report.State != StateAborted || report.Outcome != tt.wantOutcome {
				t.Errorf("state = %s outcome = %s, want aborted/%s", report.State, report.Outcome, tt.wantOutcome)
			}
			if store.saves != 1 {
				t.Errorf("saves = %d, want prior data written back once", store.saves)
			}
			saved := store.data[target.Name()]
			if saved.Len() != 1 || saved.Events()[0].ID != prior.ID {
				t.Errorf("prior data changed: %+v", saved.Events())
			}
			if len(report.Attempts) != len(tt.attempts) {
				t.Errorf("Attempts = %d, want %d", len(report.Attempts), len(tt.attempts))
			}
		})
	}
}

func TestRun_AbortedWithNothingStored(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{result: &fetch.Result{}, err: fetch.ErrNoContent}

	report, err := newPipeline(t, fetcher, store, firstRun).Run(context.Background(), "pune")
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateAborted || report.Outcome != OutcomeUnreachable {
		t.Errorf("state = %s outcome = %s", report.State, report.Outcome)
	}
	if saved, ok := store.data["events_pune_20260215"]; !ok || saved.Len() != 0 {
		t.Error("an empty but valid dataset should be written")
	}
}

func TestRun_PersistFailure(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("read-only file system")
	notify := &recordingNotifier{}

	p := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun, func(o *Options) { o.Notifier = notify })
	report, err := p.Run(context.Background(), "mumbai")
	if err == nil {
		t.Fatal("Run() error = nil, want persistence failure")
	}
	if report.State != StateFailed || report.Outcome != OutcomeFailed {
		t.Errorf("state = %s outcome = %s, want failed/failed", report.State, report.Outcome)
	}
	if len(notify.events) != 0 {
		t.Error("nothing should be announced when the save failed")
	}
}

func TestRun_NotifyFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	notify := &recordingNotifier{err: errors.New("rate limited")}

	p := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun, func(o *Options) { o.Notifier = notify })
	report, err := p.Run(context.Background(), "mumbai")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateDone {
		t.Errorf("state = %s, want done", report.State)
	}
}

func TestRun_Cancelled(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun).Run(ctx, "mumbai")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if report.State != StateFailed || report.Outcome != OutcomeCancelled {
		t.Errorf("state = %s outcome = %s", report.State, report.Outcome)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, a cancelled run must not write", store.saves)
	}
}

func TestRun_CancelledDuringPacing(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun, func(o *Options) { o.EventDelay = time.Hour })
	report, err := p.Run(ctx, "mumbai")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if report.State != StateFailed || store.saves != 0 {
		t.Errorf("state = %s saves = %d, want failed with no write", report.State, store.saves)
	}
}

func TestRun_UnknownCity(t *testing.T) {
	p := newPipeline(t, okFetcher(nil), newMemStore(), firstRun)
	if _, err := p.Run(context.Background(), "atlantis"); !errors.Is(err, config.ErrUnknownCity) {
		t.Errorf("Run() error = %v, want ErrUnknownCity", err)
	}
}

// failingStore fails saves for one target only
type failingStore struct {
	*memStore
	failTarget string
}

func (f *failingStore) Save(ctx context.Context, target storage.Target, d *event.Dataset) error {
	if target.Name() == f.failTarget {
		return errors.New("disk full")
	}
	return f.memStore.Save(ctx, target, d)
}

func TestRunAll(t *testing.T) {
	store := &failingStore{memStore: newMemStore(), failTarget: "events_delhi_20260215"}
	p := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun)

	reports, err := p.RunAll(context.Background(), []string{"mumbai", "delhi", "pune"}, 2)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(reports))
	}

	wantStates := []State{StateDone, StateFailed, StateDone}
	for i, r := range reports {
		if r.State != wantStates[i] {
			t.Errorf("%s state = %s, want %s", r.City, r.State, wantStates[i])
		}
	}
	if reports[1].Err == nil {
		t.Error("failed city should carry its error")
	}

	if _, err := p.RunAll(context.Background(), []string{"mumbai", "atlantis"}, 2); !errors.Is(err, config.ErrUnknownCity) {
		t.Errorf("RunAll() error = %v, want ErrUnknownCity", err)
	}
}

// pagedFetcher serves one page per call in order and tracks how many
// fetches overlap
type pagedFetcher struct {
	mu       sync.Mutex
	pages    [][]byte
	calls    int
	inFlight int
	maxOver  int
}

func (f *pagedFetcher) Fetch(ctx context.Context, url string) (*fetch.Result, error) {
	f.mu.Lock()
	page := f.pages[f.calls%len(f.pages)]
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxOver {
		f.maxOver = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return &fetch.Result{Content: page, Strategy: fetch.NameRetry}, nil
}

func onePage(path, name, date string) []byte {
	return []byte(`<html><body><div><a href="/events/` + path + `">` + name + `</a><span>` + date + `</span></div></body></html>`)
}

func TestRun_SameCitySerialized(t *testing.T) {
	fetcher := &pagedFetcher{pages: [][]byte{
		onePage("alpha-show/ET101", "Alpha Show", "2026-02-20"),
		onePage("beta-show/ET102", "Beta Show", "2026-02-21"),
	}}
	store := newMemStore()
	p := newPipeline(t, fetcher, store, firstRun)

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	for i, key := range []string{"mumbai", "Mumbai"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], _ = p.Run(context.Background(), key)
		}()
	}
	wg.Wait()

	if fetcher.maxOver != 1 {
		t.Errorf("overlapping fetches = %d, want runs of one city to be serialized", fetcher.maxOver)
	}

	newTotal := 0
	for _, r := range reports {
		if r.State != StateDone {
			t.Fatalf("%s state = %s, want done", r.City, r.State)
		}
		newTotal += r.New
	}
	if newTotal != 2 {
		t.Errorf("new events across runs = %d, want 2", newTotal)
	}

	stored, _ := store.Load(context.Background(), storage.NewTarget("mumbai", firstRun))
	if stored.Len() != 2 {
		t.Errorf("stored events = %d, want both runs' events", stored.Len())
	}
}

func TestRun_CancelledWhileWaiting(t *testing.T) {
	store := newMemStore()
	p := newPipeline(t, okFetcher(loadFixture(t)), store, firstRun)

	release, err := p.acquire(context.Background(), "mumbai")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report, err := p.Run(ctx, "mumbai")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if report.State != StateFailed || report.Outcome != OutcomeCancelled {
		t.Errorf("state = %s outcome = %s, want failed/cancelled", report.State, report.Outcome)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want 0", store.saves)
	}
}

func TestRunAll_RepeatedCityRunsOnce(t *testing.T) {
	fetcher := okFetcher(loadFixture(t))
	p := newPipeline(t, fetcher, newMemStore(), firstRun)

	reports, err := p.RunAll(context.Background(), []string{"mumbai", "delhi", "MUMBAI"}, 2)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(reports) != 2 || reports[0].City != "mumbai" || reports[1].City != "delhi" {
		t.Fatalf("reports = %+v, want mumbai then delhi", reports)
	}
	if len(fetcher.urls) != 2 {
		t.Errorf("fetches = %d, want 2", len(fetcher.urls))
	}
}

// staticStrategy serves a fixed body or error through the real fetch chain
type staticStrategy struct {
	name  string
	body  []byte
	err   error
	calls int
}

func (s *staticStrategy) Name() string { return s.name }

func (s *staticStrategy) Fetch(ctx context.Context, req fetch.Request) ([]byte, error) {
	s.calls++
	return s.body, s.err
}

func TestRun_WithChain(t *testing.T) {
	blocked := &staticStrategy{name: fetch.NameFingerprint, err: &fetch.StatusError{Code: 403}}
	empty := &staticStrategy{name: fetch.NameChallenge, body: []byte("<html><body>Just a moment</body></html>")}
	good := &staticStrategy{name: fetch.NameRetry, body: loadFixture(t)}
	unused := &staticStrategy{name: fetch.NameChromedp}

	chain := fetch.NewChain([]fetch.Strategy{blocked, empty, good, unused}, nil, time.Second,
		scraper.CountLinks, 1, logger.Discard())
	m := metrics.New()
	store := newMemStore()
	p := newPipeline(t, chain, store, firstRun, func(o *Options) { o.Metrics = m })

	report, err := p.Run(context.Background(), "mumbai")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Strategy != fetch.NameRetry || len(report.Attempts) != 3 {
		t.Errorf("strategy = %s attempts = %d, want retry after 3 attempts", report.Strategy, len(report.Attempts))
	}
	if unused.calls != 0 {
		t.Error("strategies after the first success must not run")
	}
	if report.New != 4 {
		t.Errorf("New = %d, want 4", report.New)
	}

	// fingerprint and challenge failed, retry succeeded
	if got, err := testutil.GatherAndCount(m.Registry(), "city_events_fetch_attempts_total"); err != nil || got != 3 {
		t.Errorf("fetch attempt series = %d (err %v), want 3", got, err)
	}
}
