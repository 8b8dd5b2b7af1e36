package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type gauge struct {
	cur, max atomic.Int32
}

func (g *gauge) inc() {
	n := g.cur.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *gauge) dec() { g.cur.Add(-1) }

func TestNewTwoTierNormalizesCaps(t *testing.T) {
	l := NewTwoTier(3, 10)
	if l.GlobalCap() != 3 || l.RegionCap() != 3 {
		t.Fatalf("caps = %d/%d", l.GlobalCap(), l.RegionCap())
	}
	l = NewTwoTier(0, 0)
	if l.GlobalCap() != 1 || l.RegionCap() != 1 {
		t.Fatalf("zero caps = %d/%d", l.GlobalCap(), l.RegionCap())
	}
}

func TestTwoTierCaps(t *testing.T) {
	l := NewTwoTier(4, 2)
	regions := []string{"us", "uk", "de"}
	var total gauge
	perRegion := map[string]*gauge{"us": {}, "uk": {}, "de": {}}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		region := regions[i%len(regions)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), region)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			total.inc()
			perRegion[region].inc()
			time.Sleep(2 * time.Millisecond)
			perRegion[region].dec()
			total.dec()
			release()
		}()
	}
	wg.Wait()

	if got := total.max.Load(); got > 4 {
		t.Fatalf("global in-flight max = %d, want <= 4", got)
	}
	for region, g := range perRegion {
		if got := g.max.Load(); got > 2 {
			t.Fatalf("%s in-flight max = %d, want <= 2", region, got)
		}
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := NewTwoTier(1, 1)
	release, err := l.Acquire(context.Background(), "us")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "uk"); err == nil {
		t.Fatalf("expected context error while global slot is held")
	}
	release()
	release()
	if release2, err := l.Acquire(context.Background(), "uk"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	} else {
		release2()
	}
}

func TestRegionWaitReturnsGlobalSlot(t *testing.T) {
	l := NewTwoTier(2, 1)
	hold, _ := l.Acquire(context.Background(), "us")
	defer hold()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "us"); err == nil {
		t.Fatalf("expected region slot wait to time out")
	}
	other, err := l.Acquire(context.Background(), "uk")
	if err != nil {
		t.Fatalf("global slot leaked after region timeout: %v", err)
	}
	other()
}
