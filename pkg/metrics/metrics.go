// Package metrics keeps the service counters. A Recorder is owned by whoever
// builds it and passed down explicitly; a nil *Recorder is a valid no-op.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "audimeta"

// Counters is a point-in-time copy of the in-process counters.
type Counters struct {
	CacheHits       int64 `json:"cacheHits"`
	CacheMisses     int64 `json:"cacheMisses"`
	CacheErrors     int64 `json:"cacheErrors"`
	UpstreamFetches int64 `json:"upstreamFetches"`
	UpstreamErrors  int64 `json:"upstreamErrors"`
	Created         int64 `json:"created"`
	Updated         int64 `json:"updated"`
	Unchanged       int64 `json:"unchanged"`
	Skipped         int64 `json:"skipped"`
	SchedulerRuns   int64 `json:"schedulerRuns"`
	ItemsSucceeded  int64 `json:"itemsSucceeded"`
	ItemsFailed     int64 `json:"itemsFailed"`
}

// Recorder counts cache, upstream, reconcile and scheduler events. Counts are
// always kept in memory; OpenTelemetry instruments are fed when a provider
// was given.
type Recorder struct {
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	cacheErrors     atomic.Int64
	upstreamFetches atomic.Int64
	upstreamErrors  atomic.Int64
	created         atomic.Int64
	updated         atomic.Int64
	unchanged       atomic.Int64
	skipped         atomic.Int64
	schedulerRuns   atomic.Int64
	itemsSucceeded  atomic.Int64
	itemsFailed     atomic.Int64

	cacheRequests    metric.Int64Counter
	upstreamRequests metric.Int64Counter
	reconciles       metric.Int64Counter
	schedulerItems   metric.Int64Counter
	runDuration      metric.Float64Histogram
}

// New builds a Recorder. provider may be nil for in-memory counting only.
func New(provider metric.MeterProvider) (*Recorder, error) {
	r := &Recorder{}
	if provider == nil {
		return r, nil
	}
	meter := provider.Meter(MeterName)

	var err error
	if r.cacheRequests, err = meter.Int64Counter(
		"audimeta_cache_requests",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if r.upstreamRequests, err = meter.Int64Counter(
		"audimeta_upstream_requests",
		metric.WithDescription("Upstream catalog fetches"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if r.reconciles, err = meter.Int64Counter(
		"audimeta_reconcile",
		metric.WithDescription("Reconciliation decisions by outcome"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}
	if r.schedulerItems, err = meter.Int64Counter(
		"audimeta_scheduler_items",
		metric.WithDescription("Scheduler work items settled"),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, err
	}
	if r.runDuration, err = meter.Float64Histogram(
		"audimeta_scheduler_run_duration_seconds",
		metric.WithDescription("Duration of scheduler runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 300, 900, 1800, 3600),
	); err != nil {
		return nil, err
	}
	return r, nil
}

// CacheLookup records a cache read. result is "hit", "miss" or "error".
func (r *Recorder) CacheLookup(ctx context.Context, kind, result string) {
	if r == nil {
		return
	}
	switch result {
	case "hit":
		r.cacheHits.Add(1)
	case "miss":
		r.cacheMisses.Add(1)
	default:
		r.cacheErrors.Add(1)
	}
	if r.cacheRequests != nil {
		r.cacheRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		))
	}
}

// UpstreamFetch records one aggregated fetch from the catalog.
func (r *Recorder) UpstreamFetch(ctx context.Context, kind, region string, success bool) {
	if r == nil {
		return
	}
	r.upstreamFetches.Add(1)
	if !success {
		r.upstreamErrors.Add(1)
	}
	if r.upstreamRequests != nil {
		r.upstreamRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("region", region),
			attribute.Bool("success", success),
		))
	}
}

// Reconciled records a reconciliation outcome:
// "created", "updated", "unchanged" or "skipped".
func (r *Recorder) Reconciled(ctx context.Context, kind, outcome string) {
	if r == nil {
		return
	}
	switch outcome {
	case "created":
		r.created.Add(1)
	case "updated":
		r.updated.Add(1)
	case "skipped":
		r.skipped.Add(1)
	default:
		r.unchanged.Add(1)
	}
	if r.reconciles != nil {
		r.reconciles.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		))
	}
}

// ItemSettled records the end of one scheduler work item.
func (r *Recorder) ItemSettled(ctx context.Context, kind, region string, success bool) {
	if r == nil {
		return
	}
	if success {
		r.itemsSucceeded.Add(1)
	} else {
		r.itemsFailed.Add(1)
	}
	if r.schedulerItems != nil {
		r.schedulerItems.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("region", region),
			attribute.Bool("success", success),
		))
	}
}

// RunFinished records a completed scheduler run.
func (r *Recorder) RunFinished(ctx context.Context, duration time.Duration) {
	if r == nil {
		return
	}
	r.schedulerRuns.Add(1)
	if r.runDuration != nil {
		r.runDuration.Record(ctx, duration.Seconds())
	}
}

// Snapshot returns the current in-memory counts.
func (r *Recorder) Snapshot() Counters {
	if r == nil {
		return Counters{}
	}
	return Counters{
		CacheHits:       r.cacheHits.Load(),
		CacheMisses:     r.cacheMisses.Load(),
		CacheErrors:     r.cacheErrors.Load(),
		UpstreamFetches: r.upstreamFetches.Load(),
		UpstreamErrors:  r.upstreamErrors.Load(),
		Created:         r.created.Load(),
		Updated:         r.updated.Load(),
		Unchanged:       r.unchanged.Load(),
		Skipped:         r.skipped.Load(),
		SchedulerRuns:   r.schedulerRuns.Load(),
		ItemsSucceeded:  r.itemsSucceeded.Load(),
		ItemsFailed:     r.itemsFailed.Load(),
	}
}

// Reset zeroes the in-memory counts. Exported instruments are cumulative and
// are not affected.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	for _, c := range []*atomic.Int64{
		&r.cacheHits, &r.cacheMisses, &r.cacheErrors,
		&r.upstreamFetches, &r.upstreamErrors,
		&r.created, &r.updated, &r.unchanged, &r.skipped,
		&r.schedulerRuns, &r.itemsSucceeded, &r.itemsFailed,
	} {
		c.Store(0)
	}
}
