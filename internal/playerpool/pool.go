// Package playerpool bounds how many video decoders run at once across a
// scrolling grid. Cards lease a slot while visible and give it back when they
// scroll away or are torn down.
package playerpool

import (
	"sort"
	"sync"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/metrics"
)

// DefaultCapacity is the number of concurrent decoders.
const DefaultCapacity = 4

// Pool is a fixed-capacity set of leases keyed by card id.
type Pool struct {
	capacity int
	logger   logger.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	leased map[string]struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a pool. A capacity below one falls back to DefaultCapacity.
func New(capacity int, opts ...Option) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		capacity: capacity,
		logger:   logger.NewNop(),
		leased:   make(map[string]struct{}, capacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("playerpool"))
	p.metrics.SetLeased(0, capacity)
	return p
}

// TryAcquire leases a slot to cardID if one is free. A card that already
// holds a lease gets true without taking a second slot.
func (p *Pool) TryAcquire(cardID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.leased[cardID]; ok {
		return true
	}
	if len(p.leased) >= p.capacity {
		p.metrics.Denied()
		p.logger.Debug("lease denied", logger.String("card_id", cardID), logger.Int("leased", len(p.leased)))
		return false
	}
	p.leased[cardID] = struct{}{}
	p.metrics.SetLeased(len(p.leased), p.capacity)
	return true
}

// Release returns cardID's slot. Releasing without a lease is a no-op.
func (p *Pool) Release(cardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.leased[cardID]; !ok {
		return
	}
	delete(p.leased, cardID)
	p.metrics.SetLeased(len(p.leased), p.capacity)
}

// Holds reports whether cardID has a lease.
func (p *Pool) Holds(cardID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.leased[cardID]
	return ok
}

// Leased returns the number of slots in use.
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// Capacity returns the slot count.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Holders lists the card ids holding a lease, sorted.
func (p *Pool) Holders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.leased))
	for id := range p.leased {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
