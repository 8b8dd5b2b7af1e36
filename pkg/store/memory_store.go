package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"audimeta/pkg/domain"
)

// MemoryStore is an in-process Store backed by maps. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	authors  *memoryAuthors
	books    *memoryRepo[domain.Book]
	chapters *memoryRepo[domain.ChapterSet]
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
	s.authors = &memoryAuthors{memoryRepo: newMemoryRepo[domain.Author](s.clock)}
	s.books = newMemoryRepo[domain.Book](s.clock)
	s.chapters = newMemoryRepo[domain.ChapterSet](s.clock)
	return s
}

// SetClock overrides the time source used for store-managed timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) clock() time.Time { return s.now() }

func (s *MemoryStore) Authors() AuthorRepository { return s.authors }

func (s *MemoryStore) Books() Repository[domain.Book] { return s.books }

func (s *MemoryStore) Chapters() Repository[domain.ChapterSet] { return s.chapters }

func (s *MemoryStore) Ping(context.Context) error { return nil }

type memoryRepo[T domain.Record[T]] struct {
	mu    sync.RWMutex
	items map[string]T
	now   func() time.Time
}

func newMemoryRepo[T domain.Record[T]](now func() time.Time) *memoryRepo[T] {
	return &memoryRepo[T]{items: make(map[string]T), now: now}
}

func memoryKey(asin, region string) string { return asin + "|" + region }

func (r *memoryRepo[T]) Find(_ context.Context, asin, region string) (T, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[memoryKey(asin, region)]
	return v, ok, nil
}

func (r *memoryRepo[T]) Insert(_ context.Context, record T) error {
	asin, region := record.Identity()
	now := r.now()
	createdAt, updatedAt := record.Timestamps()
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(asin, region)
	if _, exists := r.items[key]; exists {
		return fmt.Errorf("insert %s/%s: %w", region, asin, ErrDuplicate)
	}
	r.items[key] = record.WithTimestamps(createdAt, updatedAt)
	return nil
}

func (r *memoryRepo[T]) Update(_ context.Context, record T) error {
	asin, region := record.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(asin, region)
	existing, ok := r.items[key]
	if !ok {
		return domain.NotFoundf("record %s not found in %s", asin, region)
	}
	createdAt, _ := existing.Timestamps()
	r.items[key] = record.WithTimestamps(createdAt, r.now())
	return nil
}

func (r *memoryRepo[T]) Delete(_ context.Context, asin, region string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(asin, region)
	if _, ok := r.items[key]; !ok {
		return false, nil
	}
	delete(r.items, key)
	return true, nil
}

func (r *memoryRepo[T]) FindStale(_ context.Context, region string, before time.Time) ([]string, error) {
	type stale struct {
		asin    string
		updated time.Time
	}
	r.mu.RLock()
	var found []stale
	for _, v := range r.items {
		asin, rg := v.Identity()
		_, updatedAt := v.Timestamps()
		if rg == region && updatedAt.Before(before) {
			found = append(found, stale{asin: asin, updated: updatedAt})
		}
	}
	r.mu.RUnlock()
	sort.Slice(found, func(i, j int) bool {
		if found[i].updated.Equal(found[j].updated) {
			return found[i].asin < found[j].asin
		}
		return found[i].updated.Before(found[j].updated)
	})
	asins := make([]string, len(found))
	for i, s := range found {
		asins[i] = s.asin
	}
	return asins, nil
}

type memoryAuthors struct {
	*memoryRepo[domain.Author]
}

func (r *memoryAuthors) SearchByName(_ context.Context, name, region string, limit int) ([]domain.Author, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	var res []domain.Author
	for _, a := range r.items {
		if a.Region == region && strings.Contains(strings.ToLower(a.Name), needle) {
			res = append(res, a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
