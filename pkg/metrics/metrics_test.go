package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.CacheLookup(context.Background(), "book", "hit")
	r.UpstreamFetch(context.Background(), "book", "us", false)
	r.Reconciled(context.Background(), "book", "created")
	r.ItemSettled(context.Background(), "book", "us", true)
	r.RunFinished(context.Background(), time.Second)
	r.Reset()
	if r.Snapshot() != (Counters{}) {
		t.Fatalf("nil recorder snapshot must be zero")
	}
}

func TestSnapshotAndReset(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	r.CacheLookup(ctx, "book", "hit")
	r.CacheLookup(ctx, "book", "miss")
	r.CacheLookup(ctx, "book", "error")
	r.UpstreamFetch(ctx, "author", "de", false)
	r.Reconciled(ctx, "book", "created")
	r.Reconciled(ctx, "book", "skipped")
	r.ItemSettled(ctx, "chapter", "us", false)
	r.RunFinished(ctx, time.Second)

	got := r.Snapshot()
	want := Counters{
		CacheHits: 1, CacheMisses: 1, CacheErrors: 1,
		UpstreamFetches: 1, UpstreamErrors: 1,
		Created: 1, Skipped: 1,
		SchedulerRuns: 1, ItemsFailed: 1,
	}
	if got != want {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
	r.Reset()
	if r.Snapshot() != (Counters{}) {
		t.Fatalf("reset left counts: %+v", r.Snapshot())
	}
}

func TestInstrumentsExported(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	r, err := New(mp)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.ItemSettled(ctx, "book", "us", true)
	r.ItemSettled(ctx, "book", "uk", true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "audimeta_scheduler_items" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Fatalf("exported items = %d, want 2", total)
	}
}

func TestPrometheusHandler(t *testing.T) {
	mp, handler, err := NewPrometheusProvider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer func() { _ = mp.Shutdown(context.Background()) }()
	r, err := New(mp)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.CacheLookup(context.Background(), "book", "hit")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "audimeta_cache_requests") {
		t.Fatalf("metrics output missing cache counter:\n%s", body)
	}
}
