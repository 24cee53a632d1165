package auth

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lauramurakaru/mdmp/internal/engine"
)

// fakeClock is advanced by tests instead of sleeping.
type fakeClock struct{ t atomic.Int64 }

func (c *fakeClock) now() time.Time          { return time.Unix(0, c.t.Load()) }
func (c *fakeClock) advance(d time.Duration) { c.t.Add(int64(d)) }

func newTestCache(ttl time.Duration, size int) (*ProjectCache, *fakeClock) {
	clock := &fakeClock{}
	clock.t.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	c := NewProjectCache(ttl, size)
	c.now = clock.now
	return c, clock
}

func TestProjectCache_States(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 0)

	if p, state := cache.Lookup("msk_missing"); state != CacheMiss || p != nil {
		t.Fatalf("expected miss, got %v %v", state, p)
	}

	cache.Store("msk_abc123", &ProjectContext{ProjectID: "proj_1", Policy: engine.PolicyThreshold})

	p, state := cache.Lookup("msk_abc123")
	if state != CacheFresh {
		t.Fatalf("expected fresh, got %v", state)
	}
	if p.ProjectID != "proj_1" {
		t.Errorf("expected proj_1, got %s", p.ProjectID)
	}

	clock.advance(2 * time.Minute)

	p, state = cache.Lookup("msk_abc123")
	if state != CacheStale {
		t.Fatalf("first expired read should own the refresh, got %v", state)
	}
	if p == nil || p.ProjectID != "proj_1" {
		t.Error("stale read should still return the project")
	}

	if _, state = cache.Lookup("msk_abc123"); state != CacheRefreshing {
		t.Errorf("second expired read should see a refresh in flight, got %v", state)
	}

	cache.Store("msk_abc123", &ProjectContext{ProjectID: "proj_1", Policy: engine.PolicyClassifier})
	p, state = cache.Lookup("msk_abc123")
	if state != CacheFresh || p.Policy != engine.PolicyClassifier {
		t.Errorf("Store should reset freshness and replace the value, got %v %v", state, p.Policy)
	}
}

func TestProjectCache_ConcurrentStaleReads_SingleOwner(t *testing.T) {
	cache, clock := newTestCache(time.Second, 0)
	cache.Store("msk_abc123", &ProjectContext{ProjectID: "proj_1"})
	clock.advance(time.Hour)

	var (
		wg     sync.WaitGroup
		owners atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, state := cache.Lookup("msk_abc123"); state == CacheStale {
				owners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := owners.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh owner, got %d", got)
	}
}

func TestProjectCache_ForgetProject(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 0)
	cache.Store("msk_a1", &ProjectContext{ProjectID: "a"})
	cache.Store("msk_a2", &ProjectContext{ProjectID: "a"})
	cache.Store("msk_b1", &ProjectContext{ProjectID: "b"})

	if n := cache.ForgetProject("a"); n != 2 {
		t.Errorf("expected 2 keys dropped, got %d", n)
	}
	if _, state := cache.Lookup("msk_a1"); state != CacheMiss {
		t.Error("keys of the edited project should miss")
	}
	if _, state := cache.Lookup("msk_b1"); state != CacheFresh {
		t.Error("other projects should survive")
	}

	cache.Forget("msk_b1")
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d", cache.Len())
	}
}

func TestProjectCache_EvictsOldest(t *testing.T) {
	cache, clock := newTestCache(time.Hour, 3)
	for i := 0; i < 3; i++ {
		cache.Store(fmt.Sprintf("msk_%d", i), &ProjectContext{ProjectID: fmt.Sprint(i)})
		clock.advance(time.Second)
	}

	// Refreshing an existing key must not evict anything.
	cache.Store("msk_1", &ProjectContext{ProjectID: "1"})
	if cache.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", cache.Len())
	}

	cache.Store("msk_new", &ProjectContext{ProjectID: "new"})
	if cache.Len() != 3 {
		t.Fatalf("expected size bound of 3, got %d", cache.Len())
	}
	if _, state := cache.Lookup("msk_0"); state != CacheMiss {
		t.Error("oldest entry should have been evicted")
	}
	if _, state := cache.Lookup("msk_1"); state != CacheFresh {
		t.Error("re-stored entry should survive eviction")
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Error("Clear should drop every entry")
	}
}
