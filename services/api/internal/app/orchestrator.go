package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"audimeta/internal/util"
	"audimeta/pkg/cache"
	"audimeta/pkg/domain"
	"audimeta/pkg/metrics"
	"audimeta/pkg/store"
)

// Options tune a single show request.
type Options struct {
	// Region defaults to the configured default region when empty.
	Region string
	// Update forces a fresh upstream fetch and a forced reconciliation.
	Update bool
	// SeedAuthors also loads the authors of a book in the background.
	SeedAuthors bool
}

// Entity is the capability set an orchestrator is built from.
type Entity[T domain.Record[T]] struct {
	Kind  domain.Kind
	Fetch func(ctx context.Context, asin string, region domain.Region) (T, error)
	Repo  store.Repository[T]
}

// Orchestrator sequences cache, aggregation, reconciliation and persistence
// for one entity type.
type Orchestrator[T domain.Record[T]] struct {
	entity        Entity[T]
	cache         cache.Cache
	ttl           time.Duration
	defaultRegion string
	metrics       *metrics.Recorder
	encode        func(any) ([]byte, error)
	afterShow     func(ctx context.Context, record T, opts Options)
}

type orchestratorConfig struct {
	cache         cache.Cache
	ttl           time.Duration
	defaultRegion string
	metrics       *metrics.Recorder
	sortKeys      bool
}

func newOrchestrator[T domain.Record[T]](entity Entity[T], cfg orchestratorConfig) *Orchestrator[T] {
	if cfg.ttl <= 0 {
		cfg.ttl = cache.DefaultTTL
	}
	encode := json.Marshal
	if cfg.sortKeys {
		encode = domain.MarshalSorted
	}
	return &Orchestrator[T]{
		entity:        entity,
		cache:         cfg.cache,
		ttl:           cfg.ttl,
		defaultRegion: cfg.defaultRegion,
		metrics:       cfg.metrics,
		encode:        encode,
	}
}

func (o *Orchestrator[T]) resolve(asin, region string) (domain.Region, error) {
	if err := domain.ValidateASIN(asin); err != nil {
		return domain.Region{}, err
	}
	return domain.ResolveRegion(region, o.defaultRegion)
}

// Show returns the record for asin. Unless opts.Update is set, a cached or
// stored copy is served without contacting upstream.
func (o *Orchestrator[T]) Show(ctx context.Context, asin string, opts Options) (T, error) {
	var zero T
	region, err := o.resolve(asin, opts.Region)
	if err != nil {
		return zero, err
	}
	key := cache.Key(region.Code, o.entity.Kind, asin)
	logger := util.LoggerFromContext(ctx).With("kind", o.entity.Kind, "asin", asin, "region", region.Code)

	if !opts.Update {
		if record, ok := o.cached(ctx, logger, key); ok {
			return record, nil
		}
		stored, ok, err := o.entity.Repo.Find(ctx, asin, region.Code)
		if err != nil {
			return zero, wrapf(err, "load %s %s", o.entity.Kind, asin)
		}
		if ok {
			o.metrics.Reconciled(ctx, string(o.entity.Kind), string(OutcomeKept))
			o.store(ctx, logger, key, stored)
			o.after(ctx, stored, opts)
			return stored, nil
		}
	}

	candidate, err := o.entity.Fetch(ctx, asin, region)
	if err != nil {
		return zero, err
	}
	res, err := CreateOrUpdate(ctx, o.entity.Repo, candidate, opts.Update)
	if err != nil {
		return zero, err
	}
	o.metrics.Reconciled(ctx, string(o.entity.Kind), string(res.Outcome))
	logger.Debug("reconciled", "outcome", res.Outcome, "modified", res.Modified)
	o.store(ctx, logger, key, res.Record)
	o.after(ctx, res.Record, opts)
	return res.Record, nil
}

// Delete removes the cache entry and then the stored record. It reports
// false without error when nothing was stored.
func (o *Orchestrator[T]) Delete(ctx context.Context, asin, region string) (bool, error) {
	r, err := o.resolve(asin, region)
	if err != nil {
		return false, err
	}
	_, ok, err := o.entity.Repo.Find(ctx, asin, r.Code)
	if err != nil {
		return false, wrapf(err, "load %s %s", o.entity.Kind, asin)
	}
	if !ok {
		return false, nil
	}
	if o.cache != nil {
		if _, err := o.cache.Delete(ctx, cache.Key(r.Code, o.entity.Kind, asin)); err != nil {
			util.LoggerFromContext(ctx).Warn("cache delete failed",
				"kind", o.entity.Kind, "asin", asin, "region", r.Code, slog.Any("err", err))
		}
	}
	return DeleteRecord(ctx, o.entity.Repo, asin, r.Code)
}

// Stale lists ASINs in region last updated before the given time.
func (o *Orchestrator[T]) Stale(ctx context.Context, region string, before time.Time) ([]string, error) {
	asins, err := o.entity.Repo.FindStale(ctx, region, before)
	if err != nil {
		return nil, wrapf(err, "list stale %s in %s", o.entity.Kind, region)
	}
	return asins, nil
}

func (o *Orchestrator[T]) cached(ctx context.Context, logger *slog.Logger, key string) (T, bool) {
	var record T
	if o.cache == nil {
		return record, false
	}
	raw, ok, err := o.cache.Get(ctx, key)
	switch {
	case err != nil:
		o.metrics.CacheLookup(ctx, string(o.entity.Kind), "error")
		logger.Warn("cache get failed", slog.Any("err", err))
		return record, false
	case !ok:
		o.metrics.CacheLookup(ctx, string(o.entity.Kind), "miss")
		return record, false
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		o.metrics.CacheLookup(ctx, string(o.entity.Kind), "error")
		logger.Warn("cache entry unreadable", slog.Any("err", err))
		return record, false
	}
	o.metrics.CacheLookup(ctx, string(o.entity.Kind), "hit")
	return record, true
}

func (o *Orchestrator[T]) store(ctx context.Context, logger *slog.Logger, key string, record T) {
	if o.cache == nil {
		return
	}
	raw, err := o.encode(record)
	if err != nil {
		logger.Warn("cache encode failed", slog.Any("err", err))
		return
	}
	if err := o.cache.Set(ctx, key, raw, o.ttl); err != nil {
		logger.Warn("cache set failed", slog.Any("err", err))
	}
}

func (o *Orchestrator[T]) after(ctx context.Context, record T, opts Options) {
	if o.afterShow != nil {
		o.afterShow(ctx, record, opts)
	}
}
