// ABOUTME: In-memory caching of headless scan verdicts to avoid repeat fetches.
// ABOUTME: Uses TTL-based expiration so background rescans still pick up new releases.

package cache

import (
	"sync"
	"time"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

type CacheEntry struct {
	Verdict   types.Verdict
	ExpiresAt time.Time
}

// VerdictCache remembers recent headless scan verdicts per package name.
// Annotating several manifests that share dependencies must not re-download
// and re-analyze the same package each time.
type VerdictCache struct {
	cache  map[string]*CacheEntry
	mutex  sync.RWMutex
	ttl    time.Duration
	logger *logrus.Logger
}

func NewVerdictCache(logger *logrus.Logger) *VerdictCache {
	cache := &VerdictCache{
		cache:  make(map[string]*CacheEntry),
		ttl:    30 * time.Minute,
		logger: logger,
	}

	// Start cleanup goroutine
	go cache.startCleanup()

	return cache
}

// Get returns the cached verdict for a package, or "" on a miss
func (c *VerdictCache) Get(packageName string) types.Verdict {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[packageName]
	if !exists {
		return ""
	}

	// Check if entry has expired
	if time.Now().After(entry.ExpiresAt) {
		// Don't delete here to avoid write lock in read operation
		// Cleanup will handle expired entries
		return ""
	}

	c.logger.WithField("package", packageName).Debug("Verdict cache hit")
	return entry.Verdict
}

func (c *VerdictCache) Set(packageName string, verdict types.Verdict) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[packageName] = &CacheEntry{
		Verdict:   verdict,
		ExpiresAt: time.Now().Add(c.ttl),
	}

	c.logger.WithField("package", packageName).Debug("Cached scan verdict")
}

func (c *VerdictCache) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *VerdictCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	expiredCount := 0

	for packageName, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			delete(c.cache, packageName)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.cache),
		}).Debug("Verdict cache cleanup completed")
	}
}

func (c *VerdictCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	total = len(c.cache)

	for _, entry := range c.cache {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return total, expired
}
