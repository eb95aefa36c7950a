package proxypool

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/use-agent/serpcrawl/models"
)

// DefaultMaxFails is the consecutive-failure threshold used when the
// configured value is not positive.
const DefaultMaxFails = 3

// ErrDuplicate is returned by Add when an endpoint with the same id exists.
var ErrDuplicate = errors.New("proxypool: endpoint already exists")

// Pool owns the proxy endpoints, their health and the selection strategy.
// It is safe for concurrent use; no method holds the lock across I/O.
type Pool struct {
	mu        sync.RWMutex
	endpoints []*Endpoint // insertion order
	strategy  Strategy
	cursor    uint64
	maxFails  int
	rnd       *rand.Rand
	now       func() time.Time
	onChange  func(Stats)
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand sets the random source for the random and weighted strategies.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rnd = r }
}

// WithClock overrides time.Now for last-used timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithObserver registers a callback invoked with fresh stats after every
// health or membership change. It runs outside the lock.
func WithObserver(fn func(Stats)) Option {
	return func(p *Pool) { p.onChange = fn }
}

// New creates a pool. Duplicate endpoints in the initial list are skipped.
func New(strategy Strategy, maxFails int, endpoints []Endpoint, opts ...Option) *Pool {
	if maxFails <= 0 {
		maxFails = DefaultMaxFails
	}
	p := &Pool{
		strategy: strategy,
		maxFails: maxFails,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5e4c)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, e := range endpoints {
		if err := p.add(e); err != nil {
			slog.Warn("proxypool: skipping duplicate endpoint", "proxy", e.ID())
		}
	}
	return p
}

// Strategy returns the configured selection strategy.
func (p *Pool) Strategy() Strategy { return p.strategy }

// Acquire returns the next enabled endpoint per strategy. ok is false when
// the pool is empty or every endpoint is disabled; that is a valid
// "no proxy" signal, not an error.
func (p *Pool) Acquire() (e Endpoint, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	enabled := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.Enabled {
			enabled = append(enabled, ep)
		}
	}
	if len(enabled) == 0 {
		return Endpoint{}, false
	}

	chosen := enabled[p.pick(enabled)]
	chosen.LastUsed = p.now()
	return *chosen, true
}

// Report records the outcome of using an endpoint. A failure that brings
// the consecutive-failure counter to the threshold disables the endpoint.
// Unknown ids are ignored with a warning.
func (p *Pool) Report(id string, success bool) {
	p.mu.Lock()
	ep := p.find(id)
	if ep == nil {
		p.mu.Unlock()
		slog.Warn("proxypool: report for unknown endpoint", "proxy", id, "success", success)
		return
	}

	ep.TotalUses++
	disabled := false
	if success {
		ep.ConsecutiveFails = 0
	} else {
		ep.ConsecutiveFails++
		if ep.Enabled && ep.ConsecutiveFails >= p.maxFails {
			ep.Enabled = false
			disabled = true
		}
	}
	fails := ep.ConsecutiveFails
	stats := p.statsLocked()
	p.mu.Unlock()

	if disabled {
		slog.Warn("proxypool: endpoint disabled", "proxy", id, "consecutiveFails", fails)
	}
	p.notify(stats)
}

// Add inserts an endpoint at the end of the rotation.
func (p *Pool) Add(e Endpoint) error {
	p.mu.Lock()
	err := p.add(e)
	stats := p.statsLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.notify(stats)
	return nil
}

// Remove deletes an endpoint. Removing an absent id is a no-op.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	removed := false
	for i, ep := range p.endpoints {
		if ep.ID() == id {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			removed = true
			break
		}
	}
	stats := p.statsLocked()
	p.mu.Unlock()
	if removed {
		p.notify(stats)
	}
}

// SetEnabled flips the enabled flag. Re-enabling clears the consecutive
// failure counter. It reports whether the id exists.
func (p *Pool) SetEnabled(id string, enabled bool) bool {
	p.mu.Lock()
	ep := p.find(id)
	if ep == nil {
		p.mu.Unlock()
		return false
	}
	ep.Enabled = enabled
	if enabled {
		ep.ConsecutiveFails = 0
	}
	stats := p.statsLocked()
	p.mu.Unlock()
	p.notify(stats)
	return true
}

// Get returns a copy of the endpoint with the given id.
func (p *Pool) Get(id string) (Endpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ep := p.find(id); ep != nil {
		return *ep, true
	}
	return Endpoint{}, false
}

// Snapshot returns copies of all endpoints in insertion order.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

// Stats is an aggregate view of the pool.
type Stats struct {
	Strategy  Strategy
	Total     int
	Enabled   int
	TotalUses int64
}

// Disabled is the number of endpoints not eligible for selection.
func (s Stats) Disabled() int { return s.Total - s.Enabled }

// Model converts the stats to the API model.
func (s Stats) Model() models.ProxyStats {
	return models.ProxyStats{
		Strategy:  string(s.Strategy),
		Total:     s.Total,
		Enabled:   s.Enabled,
		Disabled:  s.Disabled(),
		TotalUses: s.TotalUses,
	}
}

// Stats returns aggregate counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{Strategy: p.strategy, Total: len(p.endpoints)}
	for _, ep := range p.endpoints {
		if ep.Enabled {
			s.Enabled++
		}
		s.TotalUses += ep.TotalUses
	}
	return s
}

func (p *Pool) add(e Endpoint) error {
	if p.find(e.ID()) != nil {
		return ErrDuplicate
	}
	cp := e
	p.endpoints = append(p.endpoints, &cp)
	return nil
}

func (p *Pool) find(id string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.ID() == id {
			return ep
		}
	}
	return nil
}

func (p *Pool) notify(s Stats) {
	if p.onChange != nil {
		p.onChange(s)
	}
}
