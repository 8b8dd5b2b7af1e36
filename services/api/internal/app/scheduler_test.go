package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audimeta/pkg/domain"
	"audimeta/pkg/metrics"
)

type fakeLister struct {
	stale map[string][]string
	fail  map[string]bool
	calls atomic.Int32
}

func listKey(kind domain.Kind, region string) string { return string(kind) + "|" + region }

func (f *fakeLister) ListStale(_ context.Context, kind domain.Kind, region string, _ time.Time) ([]string, error) {
	f.calls.Add(1)
	if f.fail[listKey(kind, region)] {
		return nil, errors.New("db unavailable")
	}
	return f.stale[listKey(kind, region)], nil
}

type fakeRefresher struct {
	delay time.Duration
	fail  map[string]bool
	panic map[string]bool

	mu        sync.Mutex
	active    int
	maxActive int
	perRegion map[string]int
	maxRegion map[string]int
	order     []WorkItem
}

func newFakeRefresher(delay time.Duration) *fakeRefresher {
	return &fakeRefresher{delay: delay, perRegion: map[string]int{}, maxRegion: map[string]int{}}
}

func (f *fakeRefresher) Refresh(ctx context.Context, item WorkItem) error {
	f.mu.Lock()
	f.active++
	f.perRegion[item.Region]++
	f.maxActive = max(f.maxActive, f.active)
	f.maxRegion[item.Region] = max(f.maxRegion[item.Region], f.perRegion[item.Region])
	f.order = append(f.order, item)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.perRegion[item.Region]--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.panic[item.ASIN] {
		panic("boom")
	}
	if f.fail[item.ASIN] {
		return errors.New("upstream down")
	}
	return nil
}

func asins(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%08d", prefix, i)
	}
	return out
}

func testRand() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestSchedulerRespectsRegionCapWithinGlobalCap(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{listKey(domain.KindBook, "us"): asins("US", 12)}}
	refresher := newFakeRefresher(20 * time.Millisecond)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Concurrency: 10, MaxPerRegion: 5, Parallel: true,
		Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
	}, WithRand(testRand()))

	summary, err := s.RunWithSummary(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 12 || summary.Succeeded != 12 {
		t.Fatalf("summary = %+v", summary)
	}
	if refresher.maxActive > 5 {
		t.Fatalf("single region ran %d at once, cap is 5", refresher.maxActive)
	}
}

func TestSchedulerRespectsGlobalCap(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{
		listKey(domain.KindBook, "us"): asins("US", 8),
		listKey(domain.KindBook, "uk"): asins("UK", 8),
		listKey(domain.KindBook, "de"): asins("DE", 8),
	}}
	refresher := newFakeRefresher(15 * time.Millisecond)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Concurrency: 4, MaxPerRegion: 3, Parallel: true,
		Regions: []string{"us", "uk", "de"}, Kinds: []domain.Kind{domain.KindBook},
	}, WithRand(testRand()))

	summary, err := s.RunWithSummary(context.Background())
	if err != nil || summary.Total != 24 {
		t.Fatalf("summary = %+v, %v", summary, err)
	}
	if refresher.maxActive > 4 {
		t.Fatalf("global active peaked at %d", refresher.maxActive)
	}
	for region, peak := range refresher.maxRegion {
		if peak > 3 {
			t.Fatalf("region %s peaked at %d", region, peak)
		}
	}
}

func TestSchedulerSettlesEveryItem(t *testing.T) {
	items := asins("B0", 10)
	lister := &fakeLister{stale: map[string][]string{listKey(domain.KindAuthor, "us"): items}}
	refresher := newFakeRefresher(time.Millisecond)
	refresher.fail = map[string]bool{items[1]: true, items[4]: true}
	refresher.panic = map[string]bool{items[7]: true}
	rec, _ := metrics.New(nil)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Parallel: true, Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindAuthor},
	}, WithRand(testRand()), WithMetrics(rec))

	summary, err := s.RunWithSummary(context.Background())
	if err != nil {
		t.Fatalf("item failures must not fail the run: %v", err)
	}
	if summary.Total != 10 || summary.Succeeded != 7 || summary.Failed != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(refresher.order) != 10 {
		t.Fatalf("refresh invoked %d times, want 10", len(refresher.order))
	}
	if snap := rec.Snapshot(); snap.ItemsSucceeded != 7 || snap.ItemsFailed != 3 || snap.SchedulerRuns != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSchedulerSequentialRunsOneRegionAtATime(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{
		listKey(domain.KindBook, "us"): asins("US", 3),
		listKey(domain.KindBook, "de"): asins("DE", 3),
		listKey(domain.KindBook, "uk"): asins("UK", 3),
	}}
	refresher := newFakeRefresher(time.Millisecond)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Regions: []string{"us", "de", "uk"}, Kinds: []domain.Kind{domain.KindBook},
	}, WithRand(testRand()))

	summary, err := s.RunWithSummary(context.Background())
	if err != nil || summary.Total != 9 || summary.Parallel {
		t.Fatalf("summary = %+v, %v", summary, err)
	}
	if refresher.maxActive != 1 {
		t.Fatalf("sequential mode ran %d at once", refresher.maxActive)
	}
	for i := 1; i < len(refresher.order); i++ {
		if refresher.order[i-1].Region > refresher.order[i].Region {
			t.Fatalf("regions interleaved: %+v", refresher.order)
		}
	}
}

func TestSchedulerRejectsOverlappingRuns(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{listKey(domain.KindBook, "us"): asins("US", 1)}}
	refresher := newFakeRefresher(100 * time.Millisecond)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for s.State() == StateIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run after finish: %v", err)
	}
}

func TestSchedulerShuffleIsSeeded(t *testing.T) {
	run := func() []WorkItem {
		lister := &fakeLister{stale: map[string][]string{listKey(domain.KindBook, "us"): asins("US", 20)}}
		refresher := newFakeRefresher(0)
		s := NewScheduler(lister, refresher, SchedulerConfig{
			Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
		}, WithRand(testRand()))
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		return refresher.order
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different orders at %d", i)
		}
	}
	inOrder := true
	for i, item := range first {
		if item.ASIN != fmt.Sprintf("US%08d", i) {
			inOrder = false
		}
	}
	if inOrder {
		t.Fatalf("items were not shuffled")
	}
}

func TestSchedulerParallelAdmissionFollowsSeed(t *testing.T) {
	run := func() []WorkItem {
		lister := &fakeLister{stale: map[string][]string{listKey(domain.KindBook, "us"): asins("US", 200)}}
		refresher := newFakeRefresher(0)
		s := NewScheduler(lister, refresher, SchedulerConfig{
			Concurrency: 1, MaxPerRegion: 1, Parallel: true,
			Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
		}, WithRand(testRand()))
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		return refresher.order
	}
	first := run()
	for trial := range 3 {
		again := run()
		if len(again) != len(first) {
			t.Fatalf("trial %d admitted %d items, want %d", trial, len(again), len(first))
		}
		for i := range first {
			if first[i] != again[i] {
				t.Fatalf("trial %d: same seed admitted %s before %s at %d", trial, again[i].ASIN, first[i].ASIN, i)
			}
		}
	}
	if first[0].ASIN == "US00000000" && first[1].ASIN == "US00000001" {
		t.Fatalf("items were not shuffled")
	}
}

func TestSchedulerParallelCancelledRunAdmitsNothing(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{
		listKey(domain.KindBook, "us"): asins("US", 5),
		listKey(domain.KindBook, "de"): asins("DE", 5),
	}}
	refresher := newFakeRefresher(0)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Concurrency: 4, MaxPerRegion: 2, Parallel: true,
		Regions: []string{"us", "de"}, Kinds: []domain.Kind{domain.KindBook},
	}, WithRand(testRand()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := s.RunWithSummary(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 10 || summary.Failed != 10 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(refresher.order) != 0 {
		t.Fatalf("cancelled run refreshed %d items", len(refresher.order))
	}
}

func TestSchedulerSkipsFailedListing(t *testing.T) {
	lister := &fakeLister{
		stale: map[string][]string{listKey(domain.KindBook, "uk"): asins("UK", 2)},
		fail:  map[string]bool{listKey(domain.KindBook, "us"): true},
	}
	refresher := newFakeRefresher(0)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Regions: []string{"us", "uk"}, Kinds: []domain.Kind{domain.KindBook},
	})
	summary, err := s.RunWithSummary(context.Background())
	if err != nil || summary.Total != 2 || summary.Succeeded != 2 {
		t.Fatalf("summary = %+v, %v", summary, err)
	}
}

func TestSchedulerUsesStaleCutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var got time.Time
	lister := listerFunc(func(_ context.Context, _ domain.Kind, _ string, before time.Time) ([]string, error) {
		got = before
		return nil, nil
	})
	s := NewScheduler(lister, newFakeRefresher(0), SchedulerConfig{
		Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
	}, WithClock(func() time.Time { return now }))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := now.Add(-DefaultStaleAfter); !got.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", got, want)
	}
}

type listerFunc func(ctx context.Context, kind domain.Kind, region string, before time.Time) ([]string, error)

func (f listerFunc) ListStale(ctx context.Context, kind domain.Kind, region string, before time.Time) ([]string, error) {
	return f(ctx, kind, region, before)
}

func TestSchedulerStartRunsOnStartAndStops(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{listKey(domain.KindBook, "us"): asins("US", 2)}}
	refresher := newFakeRefresher(0)
	s := NewScheduler(lister, refresher, SchedulerConfig{
		Interval: time.Hour, RunOnStart: true,
		Regions: []string{"us"}, Kinds: []domain.Kind{domain.KindBook},
	})
	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for lister.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()
	if lister.calls.Load() != 1 {
		t.Fatalf("expected one run on start, got %d listings", lister.calls.Load())
	}
	if s.State() != StateIdle {
		t.Fatalf("state after stop = %s", s.State())
	}
}

func TestSchedulerNextDelayJitter(t *testing.T) {
	s := NewScheduler(&fakeLister{}, newFakeRefresher(0), SchedulerConfig{Interval: 10 * time.Hour}, WithRand(testRand()))
	for range 100 {
		d := s.nextDelay()
		if d < 9*time.Hour || d > 11*time.Hour {
			t.Fatalf("delay %v outside jitter window", d)
		}
	}
}
