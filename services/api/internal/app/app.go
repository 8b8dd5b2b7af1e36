package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"audimeta/internal/util"
	"audimeta/pkg/cache"
	"audimeta/pkg/domain"
	"audimeta/pkg/metrics"
	"audimeta/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	healthTimeout      = 2 * time.Second
	seedAuthorsTimeout = 30 * time.Second
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	Store         store.Store
	Cache         cache.Cache
	API           CatalogAPI
	Pages         PageFetcher
	Metrics       *metrics.Recorder
	DefaultRegion string
	CacheTTL      time.Duration
	SortKeys      bool
}

// App owns the per-entity orchestrators and routes requests to them by kind.
type App struct {
	store         store.Store
	cache         cache.Cache
	metrics       *metrics.Recorder
	defaultRegion string
	sortKeys      bool

	Authors  *Orchestrator[domain.Author]
	Books    *Orchestrator[domain.Book]
	Chapters *Orchestrator[domain.ChapterSet]

	handlers map[domain.Kind]entityHandler
	seeds    sync.WaitGroup
}

// entityHandler is the kind-erased view of an Orchestrator used by the dispatch table.
type entityHandler interface {
	showAny(ctx context.Context, asin string, opts Options) (any, error)
	Delete(ctx context.Context, asin, region string) (bool, error)
	Stale(ctx context.Context, region string, before time.Time) ([]string, error)
}

func (o *Orchestrator[T]) showAny(ctx context.Context, asin string, opts Options) (any, error) {
	return o.Show(ctx, asin, opts)
}

// New wires the orchestrators. When no Store is injected a Postgres store is
// opened from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "us"
	}
	if _, ok := domain.LookupRegion(cfg.DefaultRegion); !ok {
		return nil, fmt.Errorf("unknown default region %q", cfg.DefaultRegion)
	}

	agg := NewAggregator(cfg.API, cfg.Pages, cfg.Metrics)
	oc := orchestratorConfig{
		cache:         cfg.Cache,
		ttl:           cfg.CacheTTL,
		defaultRegion: cfg.DefaultRegion,
		metrics:       cfg.Metrics,
		sortKeys:      cfg.SortKeys,
	}
	a := &App{
		store:         dataStore,
		cache:         cfg.Cache,
		metrics:       cfg.Metrics,
		defaultRegion: cfg.DefaultRegion,
		sortKeys:      cfg.SortKeys,
	}
	a.Authors = newOrchestrator(Entity[domain.Author]{
		Kind: domain.KindAuthor, Fetch: agg.Author, Repo: dataStore.Authors(),
	}, oc)
	a.Books = newOrchestrator(Entity[domain.Book]{
		Kind: domain.KindBook, Fetch: agg.Book, Repo: dataStore.Books(),
	}, oc)
	a.Chapters = newOrchestrator(Entity[domain.ChapterSet]{
		Kind: domain.KindChapter, Fetch: agg.Chapters, Repo: dataStore.Chapters(),
	}, oc)
	a.Books.afterShow = a.seedAuthors
	a.handlers = map[domain.Kind]entityHandler{
		domain.KindAuthor:  a.Authors,
		domain.KindBook:    a.Books,
		domain.KindChapter: a.Chapters,
	}
	return a, nil
}

// DefaultRegion returns the region used when a request names none.
func (a *App) DefaultRegion() string { return a.defaultRegion }

// Metrics returns the shared recorder.
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

func (a *App) handler(kind domain.Kind) (entityHandler, error) {
	h, ok := a.handlers[kind]
	if !ok {
		return nil, domain.BadRequestf("unknown entity type %q", kind)
	}
	return h, nil
}

// Show returns the record of the given kind.
func (a *App) Show(ctx context.Context, kind domain.Kind, asin string, opts Options) (any, error) {
	h, err := a.handler(kind)
	if err != nil {
		return nil, err
	}
	return h.showAny(ctx, asin, opts)
}

// Delete removes the record of the given kind and its cache entry.
func (a *App) Delete(ctx context.Context, kind domain.Kind, asin, region string) (bool, error) {
	h, err := a.handler(kind)
	if err != nil {
		return false, err
	}
	return h.Delete(ctx, asin, region)
}

// Refresh force-refreshes one record without seeding authors.
func (a *App) Refresh(ctx context.Context, item WorkItem) error {
	_, err := a.Show(ctx, item.Kind, item.ASIN, Options{Region: item.Region, Update: true})
	return err
}

// ListStale lists records of kind in region last updated before the cutoff.
func (a *App) ListStale(ctx context.Context, kind domain.Kind, region string, before time.Time) ([]string, error) {
	h, err := a.handler(kind)
	if err != nil {
		return nil, err
	}
	return h.Stale(ctx, region, before)
}

// SearchAuthors returns stored authors whose name contains name.
func (a *App) SearchAuthors(ctx context.Context, name, region string) ([]domain.Author, error) {
	if len([]rune(name)) < 2 {
		return nil, domain.BadRequestf("name must have at least 2 characters")
	}
	r, err := domain.ResolveRegion(region, a.defaultRegion)
	if err != nil {
		return nil, err
	}
	authors, err := a.store.Authors().SearchByName(ctx, name, r.Code, store.DefaultSearchLimit)
	if err != nil {
		return nil, wrapf(err, "search authors")
	}
	return authors, nil
}

// Encode serializes a response value, sorting keys when configured.
func (a *App) Encode(v any) ([]byte, error) {
	if a.sortKeys {
		return domain.MarshalSorted(v)
	}
	return json.Marshal(v)
}

// seedAuthors loads each author of a freshly served book in the background.
func (a *App) seedAuthors(ctx context.Context, book domain.Book, opts Options) {
	if !opts.SeedAuthors {
		return
	}
	for _, author := range book.Authors {
		if domain.ValidateASIN(author.ASIN) != nil {
			continue
		}
		asin := author.ASIN
		a.seeds.Add(1)
		go func() {
			defer a.seeds.Done()
			seedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seedAuthorsTimeout)
			defer cancel()
			if _, err := a.Authors.Show(seedCtx, asin, Options{Region: book.Region}); err != nil {
				util.LoggerFromContext(ctx).Warn("seed author failed",
					"asin", asin, "book", book.ASIN, "region", book.Region, slog.Any("err", err))
			}
		}()
	}
}

// WaitSeeds blocks until background author loads have finished.
func (a *App) WaitSeeds() { a.seeds.Wait() }

// Health pings the store and the cache concurrently.
func (a *App) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var mu sync.Mutex
	status := map[string]string{"database": "ok", "cache": "ok"}
	mark := func(name string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		status[name] = err.Error()
		mu.Unlock()
	}
	var g errgroup.Group
	g.Go(func() error {
		mark("database", a.store.Ping(ctx))
		return nil
	})
	g.Go(func() error {
		if a.cache == nil {
			mu.Lock()
			status["cache"] = "disabled"
			mu.Unlock()
			return nil
		}
		mark("cache", a.cache.Ping(ctx))
		return nil
	})
	_ = g.Wait()
	return status
}

// Healthy reports whether every dependency in a Health result is usable.
func Healthy(status map[string]string) bool {
	for _, v := range status {
		if v != "ok" && v != "disabled" {
			return false
		}
	}
	return true
}
