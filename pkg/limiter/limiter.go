// Package limiter bounds concurrent work globally and per region.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TwoTier admits at most Global holders overall and at most PerRegion holders
// for any single region.
type TwoTier struct {
	global    *semaphore.Weighted
	globalCap int
	perRegion int

	mu      sync.Mutex
	regions map[string]*semaphore.Weighted
}

// NewTwoTier builds a limiter. Caps below 1 are raised to 1 and the
// per-region cap never exceeds the global one.
func NewTwoTier(global, perRegion int) *TwoTier {
	if global < 1 {
		global = 1
	}
	if perRegion < 1 {
		perRegion = 1
	}
	if perRegion > global {
		perRegion = global
	}
	return &TwoTier{
		global:    semaphore.NewWeighted(int64(global)),
		globalCap: global,
		perRegion: perRegion,
		regions:   make(map[string]*semaphore.Weighted),
	}
}

// GlobalCap returns the effective global cap.
func (l *TwoTier) GlobalCap() int { return l.globalCap }

// RegionCap returns the effective per-region cap.
func (l *TwoTier) RegionCap() int { return l.perRegion }

func (l *TwoTier) region(code string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.regions[code]
	if !ok {
		sem = semaphore.NewWeighted(int64(l.perRegion))
		l.regions[code] = sem
	}
	return sem
}

// Acquire blocks until a global slot and a slot for region are both held.
// Slots are taken global first and returned region first by release.
func (l *TwoTier) Acquire(ctx context.Context, region string) (release func(), err error) {
	if err := l.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sem := l.region(region)
	if err := sem.Acquire(ctx, 1); err != nil {
		l.global.Release(1)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			l.global.Release(1)
		})
	}, nil
}
