package limit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TypeConfig defines per-job-type rate limiting and concurrency.
type TypeConfig struct {
	// JobType is the job type the limits apply to.
	JobType string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously in the local worker pool. Zero means no
	// type-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained starts per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// gate is the runtime state shared by type and tenant limits.
type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(rateLimit float64, burst, maxConcurrency int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// Manager controls per-type and per-tenant rate limiting and concurrency
// for the local worker pool. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	types   map[string]*gate
	tenants map[string]*gate
}

// NewManager creates a Manager with the given type configurations.
// Types not listed here have no limits.
func NewManager(configs ...TypeConfig) *Manager {
	m := &Manager{
		types:   make(map[string]*gate, len(configs)),
		tenants: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.types[cfg.JobType] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// gates returns every gate that applies to a job. Caller holds m.mu.
func (m *Manager) gates(jobType, tenantID string) []*gate {
	var gs []*gate
	if g := m.types[jobType]; g != nil {
		gs = append(gs, g)
	}
	if tenantID != "" {
		if g := m.tenants[tenantKey(jobType, tenantID)]; g != nil {
			gs = append(gs, g)
		}
		if g := m.tenants[tenantKey("", tenantID)]; g != nil {
			gs = append(gs, g)
		}
	}
	return gs
}

// Acquire checks rate limits and concurrency for a job of jobType owned
// by tenantID. If the job may start it takes a slot in every applicable
// gate and returns true; the caller MUST call Release when the job
// finishes. A denied Acquire consumes no rate tokens.
func (m *Manager) Acquire(jobType, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	gs := m.gates(jobType, tenantID)
	for _, g := range gs {
		if g.full() {
			return false
		}
	}

	now := time.Now()
	reserved := make([]*rate.Reservation, 0, len(gs))
	for _, g := range gs {
		if g.limiter == nil {
			continue
		}
		r := g.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range reserved {
				prev.CancelAt(now)
			}
			return false
		}
		reserved = append(reserved, r)
	}

	for _, g := range gs {
		g.active++
	}
	return true
}

// Release frees the slots taken by Acquire.
func (m *Manager) Release(jobType, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.gates(jobType, tenantID) {
		if g.active > 0 {
			g.active--
		}
	}
}

// SetTypeConfig dynamically updates (or creates) a type configuration.
func (m *Manager) SetTypeConfig(cfg TypeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	// Preserve current active count if reconfiguring.
	if existing := m.types[cfg.JobType]; existing != nil {
		g.active = existing.active
	}
	m.types[cfg.JobType] = g
}

// ActiveCount returns the current number of active jobs of a type.
func (m *Manager) ActiveCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.types[jobType]; g != nil {
		return g.active
	}
	return 0
}
