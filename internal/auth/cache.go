package auth

import (
	"sync"
	"time"
)

// CacheState says how a cached project context may be used.
type CacheState int

const (
	// CacheMiss: nothing cached, the caller must authenticate synchronously.
	CacheMiss CacheState = iota
	// CacheFresh: the entry is within its TTL.
	CacheFresh
	// CacheStale: the entry expired and this caller now owns its refresh.
	CacheStale
	// CacheRefreshing: the entry expired and another caller is refreshing it.
	CacheRefreshing
)

// ProjectCache keeps authenticated project contexts keyed by API key.
//
// Expired entries are still served (stale-while-revalidate). The first
// caller to see an expired entry gets CacheStale and is expected to refresh
// it; everyone else gets CacheRefreshing until Store or Forget is called.
// When full, the entry fetched longest ago is evicted.
type ProjectCache struct {
	mu         sync.Mutex
	entries    map[string]*cachedProject
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cachedProject struct {
	project    *ProjectContext
	fetchedAt  time.Time
	refreshing bool
}

// DefaultCacheSize bounds the cache when no size is configured.
const DefaultCacheSize = 4096

// NewProjectCache creates a cache. maxEntries <= 0 uses DefaultCacheSize.
func NewProjectCache(ttl time.Duration, maxEntries int) *ProjectCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &ProjectCache{
		entries:    make(map[string]*cachedProject),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Lookup returns the cached project for apiKey and its state.
func (c *ProjectCache) Lookup(apiKey string) (*ProjectContext, CacheState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[apiKey]
	if !ok {
		return nil, CacheMiss
	}
	if c.now().Sub(e.fetchedAt) < c.ttl {
		return e.project, CacheFresh
	}
	if e.refreshing {
		return e.project, CacheRefreshing
	}
	e.refreshing = true
	return e.project, CacheStale
}

// Store caches project under apiKey and resets its TTL.
func (c *ProjectCache) Store(apiKey string, project *ProjectContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[apiKey]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[apiKey] = &cachedProject{project: project, fetchedAt: c.now()}
}

// Forget drops a single key.
func (c *ProjectCache) Forget(apiKey string) {
	c.mu.Lock()
	delete(c.entries, apiKey)
	c.mu.Unlock()
}

// ForgetProject drops every key that resolved to projectID and returns how
// many were removed. Used after policy edits and key rotation.
func (c *ProjectCache) ForgetProject(projectID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if e.project != nil && e.project.ProjectID == projectID {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Clear empties the cache.
func (c *ProjectCache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len reports the number of cached keys.
func (c *ProjectCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ProjectCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range c.entries {
		if !found || e.fetchedAt.Before(oldest) {
			oldestKey, oldest, found = key, e.fetchedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
