// Package cache keeps recent terminal job records so identical requests
// inside a freshness window can be answered without a new crawl.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/serpcrawl/models"
)

// maxAge is the age after which the cleanup loop drops an entry.
const maxAge = time.Hour

// entry holds a cached record with its creation timestamp.
type entry struct {
	record    *models.JobRecord
	createdAt time.Time
}

// Cache is a simple in-memory cache for job records keyed by query.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache with the given maximum number of entries.
// A background goroutine runs every 5 minutes to evict entries older
// than an hour; Stop ends it.
func New(maxEntries int) *Cache {
	c := newCache(maxEntries, time.Now)
	go c.cleanupLoop(5 * time.Minute)
	return c
}

func newCache(maxEntries int, now func() time.Time) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        now,
		done:       make(chan struct{}),
	}
}

// Key identifies the work a job asks for, independent of its id.
func Key(job *models.CrawlJob) string {
	h := sha256.New()
	h.Write([]byte(job.Engine))
	h.Write([]byte("|"))
	h.Write([]byte(strings.TrimSpace(job.Query())))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatBool(job.Verbatim)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatBool(job.FollowFirst)))
	for _, name := range sortedKeys(job.Selectors) {
		h.Write([]byte("|" + name + "=" + job.Selectors[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached record younger than maxAgeMs milliseconds.
// If maxAgeMs <= 0, no lookup is performed.
func (c *Cache) Get(key string, maxAgeMs int) (*models.JobRecord, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}
	return e.record, true
}

// Set stores a completed record. Failed records are not cached. If the
// cache is at capacity an arbitrary entry is evicted to make room.
func (c *Cache) Set(key string, rec *models.JobRecord) {
	if rec == nil || rec.Status != models.StatusCompleted {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = &entry{record: rec, createdAt: c.now()}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictOlderThan(maxAge)
		case <-c.done:
			return
		}
	}
}

func (c *Cache) evictOlderThan(age time.Duration) {
	cutoff := c.now().Add(-age)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notify caches completed records under their job's key, so the cache can
// sit behind the orchestrator as a notifier.
func (c *Cache) Notify(rec *models.JobRecord) {
	if rec == nil {
		return
	}
	c.Set(Key(&rec.Job), rec)
}
