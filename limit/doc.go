// Package limit provides local per-job-type and per-tenant rate limiting
// and concurrency caps for the in-process worker pool.
//
// Limits are enforced after a job is claimed. A job that is denied is
// released back to pending with a short delay without consuming a retry,
// so a noisy tenant slows down instead of burning its retry budget.
//
// # Type limits
//
//	limit.TypeConfig{
//	    JobType:        job.TypeGenerateReply,
//	    MaxConcurrency: 5,  // max 5 concurrent AI calls
//	    RateLimit:      10, // max 10 starts/s
//	    RateBurst:      20,
//	}
//
// # Tenant limits
//
// [TenantConfig] applies to one tenant on one type, or on every type when
// JobType is empty.
//
// # Manager
//
// [Manager] uses a token-bucket rate limiter (golang.org/x/time/rate) and
// an active-count gate for concurrency limits.
//
//	m := limit.NewManager(configs...)
//	if m.Acquire(j.Type, j.TenantID) {
//	    defer m.Release(j.Type, j.TenantID)
//	    // process the job
//	}
//
// Types without a [TypeConfig] have no limits beyond the pool-wide
// concurrency.
package limit
