package fetch

import (
	"strings"
	"sync"
	"time"
)

// DomainMemory remembers domains whose pages could not be fetched without
// a browser, so later jobs skip the HTTP attempt. Entries expire after ttl.
type DomainMemory struct {
	store sync.Map // domain -> expiry time.Time
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

// NewDomainMemory starts a memory with an hourly cleanup loop.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	dm := newDomainMemory(ttl, time.Now)
	go dm.cleanupLoop(time.Hour)
	return dm
}

func newDomainMemory(ttl time.Duration, now func() time.Time) *DomainMemory {
	return &DomainMemory{ttl: ttl, now: now, done: make(chan struct{})}
}

// NeedsBrowser reports whether domain was marked and has not expired.
func (dm *DomainMemory) NeedsBrowser(domain string) bool {
	domain = strings.ToLower(domain)
	val, ok := dm.store.Load(domain)
	if !ok {
		return false
	}
	if dm.now().After(val.(time.Time)) {
		dm.store.Delete(domain)
		return false
	}
	return true
}

// MarkBrowser records that domain needed the browser.
func (dm *DomainMemory) MarkBrowser(domain string) {
	dm.store.Store(strings.ToLower(domain), dm.now().Add(dm.ttl))
}

// Forget drops domain.
func (dm *DomainMemory) Forget(domain string) {
	dm.store.Delete(strings.ToLower(domain))
}

// Stop terminates the cleanup loop. It is safe to call more than once.
func (dm *DomainMemory) Stop() {
	dm.once.Do(func() { close(dm.done) })
}

func (dm *DomainMemory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			dm.prune()
		}
	}
}

func (dm *DomainMemory) prune() {
	now := dm.now()
	dm.store.Range(func(key, value any) bool {
		if now.After(value.(time.Time)) {
			dm.store.Delete(key)
		}
		return true
	})
}
