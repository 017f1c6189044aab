package limit

// TenantConfig defines rate limits and concurrency for one tenant,
// either on one job type or, with an empty JobType, across all types.
type TenantConfig struct {
	// JobType is the job type this config applies to. Empty applies it to
	// every type.
	JobType string

	// TenantID is the tenant identifier.
	TenantID string

	// RateLimit is the sustained starts per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant. Zero means
	// no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantKey builds the map key for a type+tenant pair.
func tenantKey(jobType, tenantID string) string {
	return jobType + "\x00" + tenantID
}

// SetTenantConfig configures rate limits and concurrency for a tenant.
// Calling this multiple times for the same type+tenant replaces the
// previous configuration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.JobType, cfg.TenantID)
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)

	// Preserve current active count if reconfiguring.
	if existing := m.tenants[key]; existing != nil {
		g.active = existing.active
	}
	m.tenants[key] = g
}

// TenantActiveCount returns the current number of active jobs for a
// type+tenant pair. An empty jobType reads the all-types gate.
func (m *Manager) TenantActiveCount(jobType, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.tenants[tenantKey(jobType, tenantID)]; g != nil {
		return g.active
	}
	return 0
}
