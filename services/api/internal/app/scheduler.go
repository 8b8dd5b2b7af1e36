package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"audimeta/pkg/domain"
	"audimeta/pkg/limiter"
	"audimeta/pkg/metrics"
)

const (
	DefaultSchedulerConcurrency  = 50
	DefaultSchedulerMaxPerRegion = 5
	DefaultStaleAfter            = 10 * 24 * time.Hour
	DefaultSchedulerInterval     = 24 * time.Hour
)

// WorkItem is one record due for refresh.
type WorkItem struct {
	Kind   domain.Kind
	ASIN   string
	Region string
}

// Refresher refreshes a single record from upstream.
type Refresher interface {
	Refresh(ctx context.Context, item WorkItem) error
}

// StaleLister enumerates records last updated before a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, kind domain.Kind, region string, before time.Time) ([]string, error)
}

// RunState is the phase of the current scheduler run.
type RunState int32

const (
	StateIdle RunState = iota
	StateEnumerating
	StateDispatching
	StateDraining
)

func (s RunState) String() string {
	switch s {
	case StateEnumerating:
		return "enumerating"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	default:
		return "idle"
	}
}

// SchedulerConfig tunes the update scheduler. Zero values get defaults.
type SchedulerConfig struct {
	Concurrency  int
	MaxPerRegion int
	Parallel     bool
	StaleAfter   time.Duration
	Interval     time.Duration
	RunOnStart   bool
	Regions      []string
	Kinds        []domain.Kind
}

// RunSummary describes a finished run.
type RunSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Parallel  bool          `json:"parallel"`
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRand sets the source used to shuffle work items and jitter the interval.
func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = r }
}

// WithClock sets the time source used for the staleness cutoff.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics sets the recorder for run and item counts.
func WithMetrics(rec *metrics.Recorder) SchedulerOption {
	return func(s *Scheduler) { s.metrics = rec }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler periodically refreshes stale records of every region under a
// global and a per-region concurrency cap.
type Scheduler struct {
	cfg       SchedulerConfig
	lister    StaleLister
	refresher Refresher
	limiter   *limiter.TwoTier
	metrics   *metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	running atomic.Bool
	state   atomic.Int32

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(lister StaleLister, refresher Refresher, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSchedulerConcurrency
	}
	if cfg.MaxPerRegion <= 0 {
		cfg.MaxPerRegion = DefaultSchedulerMaxPerRegion
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = domain.RegionCodes()
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = domain.Kinds()
	}
	s := &Scheduler{
		cfg:       cfg,
		lister:    lister,
		refresher: refresher,
		limiter:   limiter.NewTwoTier(cfg.Concurrency, cfg.MaxPerRegion),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		//nolint:gosec // shuffling and jitter do not need cryptographic randomness
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// State returns the phase of the current run.
func (s *Scheduler) State() RunState { return RunState(s.state.Load()) }

func (s *Scheduler) setState(st RunState) { s.state.Store(int32(st)) }

// Run refreshes every stale record once. It returns after all items have
// settled; item failures are logged and counted, never returned.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.RunWithSummary(ctx)
	return err
}

// RunWithSummary is Run that also reports the outcome.
func (s *Scheduler) RunWithSummary(ctx context.Context) (RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	defer s.setState(StateIdle)

	start := time.Now()
	s.setState(StateEnumerating)
	items := s.enumerate(ctx)
	s.shuffle(items)

	s.setState(StateDispatching)
	var succeeded, failed atomic.Int64
	settle := func(item WorkItem, err error) {
		s.metrics.ItemSettled(ctx, string(item.Kind), item.Region, err == nil)
		if err != nil {
			failed.Add(1)
			s.logger.Warn("refresh failed",
				"kind", item.Kind, "asin", item.ASIN, "region", item.Region, slog.Any("err", err))
			return
		}
		succeeded.Add(1)
	}
	if s.cfg.Parallel {
		s.dispatchParallel(ctx, items, settle)
	} else {
		s.dispatchSequential(ctx, items, settle)
	}

	summary := RunSummary{
		Total:     len(items),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Duration:  time.Since(start),
		Parallel:  s.cfg.Parallel,
	}
	s.metrics.RunFinished(ctx, summary.Duration)
	s.logger.Info("scheduler run finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"parallel", summary.Parallel,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary, nil
}

// enumerate collects stale items of every region and kind. A failed listing
// is logged and contributes nothing.
func (s *Scheduler) enumerate(ctx context.Context) []WorkItem {
	before := s.now().Add(-s.cfg.StaleAfter)
	var items []WorkItem
	for _, region := range s.cfg.Regions {
		for _, kind := range s.cfg.Kinds {
			asins, err := s.lister.ListStale(ctx, kind, region, before)
			if err != nil {
				s.logger.Warn("list stale failed", "kind", kind, "region", region, slog.Any("err", err))
				continue
			}
			for _, asin := range asins {
				items = append(items, WorkItem{Kind: kind, ASIN: asin, Region: region})
			}
		}
	}
	return items
}

func (s *Scheduler) shuffle(items []WorkItem) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

// dispatchParallel admits items in their shuffled order, then runs each one on
// its own goroutine until it returns its slots. Items that can no longer be
// admitted settle with the context error.
func (s *Scheduler) dispatchParallel(ctx context.Context, items []WorkItem, settle func(WorkItem, error)) {
	var wg sync.WaitGroup
	for _, item := range items {
		release, err := s.limiter.Acquire(ctx, item.Region)
		if err != nil {
			settle(item, fmt.Errorf("not admitted: %w", err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()
			settle(item, s.refresh(ctx, item))
		}()
	}
	s.setState(StateDraining)
	wg.Wait()
}

// dispatchSequential handles one item at a time, one region after another.
// Items keep their shuffled order within a region.
func (s *Scheduler) dispatchSequential(ctx context.Context, items []WorkItem, settle func(WorkItem, error)) {
	ordered := make([]WorkItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Region < ordered[j].Region })
	for i, item := range ordered {
		if i == len(ordered)-1 {
			s.setState(StateDraining)
		}
		if err := ctx.Err(); err != nil {
			settle(item, fmt.Errorf("not admitted: %w", err))
			continue
		}
		settle(item, s.refresh(ctx, item))
	}
}

// refresh runs one item and turns a panic into an error so siblings keep going.
func (s *Scheduler) refresh(ctx context.Context, item WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return s.refresher.Refresh(ctx, item)
}

// Start runs the scheduler in the background: once immediately when
// RunOnStart is set, then every Interval with a jitter of a tenth of it.
func (s *Scheduler) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
}

// Stop cancels the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval.String(),
		"concurrency", s.limiter.GlobalCap(),
		"max_per_region", s.limiter.RegionCap(),
		"parallel", s.cfg.Parallel,
	)
	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.nextDelay())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunWithSummary(ctx); errors.Is(err, ErrRunInProgress) {
		s.logger.Info("scheduler tick skipped, previous run still active")
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	jitter := s.cfg.Interval / 10
	if jitter <= 0 {
		return s.cfg.Interval
	}
	s.rngMu.Lock()
	offset := time.Duration(s.rng.Int64N(int64(2*jitter)+1)) - jitter
	s.rngMu.Unlock()
	return s.cfg.Interval + offset
}
