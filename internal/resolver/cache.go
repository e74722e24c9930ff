package resolver

import (
	"sync"
	"time"

	"github.com/fieldcast/fieldcast/internal/models"
)

// cacheKey identifies one resolvable media item across URL rotations.
type cacheKey struct {
	kind models.SourceKind
	key  string
}

// CachedURL is a cache entry with resolution bookkeeping. Ref is the
// reference that produced the entry, kept so background refreshes can
// re-resolve without a lookup table.
type CachedURL struct {
	Ref          *models.MediaRef
	Resolved     *ResolvedURL
	ResolvedAt   time.Time
	RefreshCount int
	LastError    string
}

// cache is a mutex-guarded resolution cache. Entries are replaced whole;
// lookups evict entries whose URL already expired.
type cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*CachedURL
	now     func() time.Time
}

func newCache(now func() time.Time) *cache {
	if now == nil {
		now = time.Now
	}
	return &cache{entries: make(map[cacheKey]*CachedURL), now: now}
}

// get returns the live entry for key, evicting it if expired.
func (c *cache) get(key cacheKey) *CachedURL {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if entry.Resolved.Expired(c.now()) {
		delete(c.entries, key)
		return nil
	}
	return entry
}

// put stores a fresh resolution, carrying the refresh count forward.
func (c *cache) put(key cacheKey, ref *models.MediaRef, resolved *ResolvedURL) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshes := 0
	if prev, ok := c.entries[key]; ok {
		refreshes = prev.RefreshCount + 1
	}
	c.entries[key] = &CachedURL{
		Ref:          ref,
		Resolved:     resolved,
		ResolvedAt:   c.now(),
		RefreshCount: refreshes,
	}
}

func (c *cache) invalidate(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*CachedURL)
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// expiringEntries returns the entries that expire within threshold,
// excluding entries that never expire.
func (c *cache) expiringEntries(threshold time.Duration) []*CachedURL {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expiring []*CachedURL
	for _, entry := range c.entries {
		if entry.Resolved.ExpiringSoon(now, threshold) {
			expiring = append(expiring, entry)
		}
	}
	return expiring
}
