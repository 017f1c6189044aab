package job

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/xraph/conveyor"
)

// Bounds enforced at enqueue time.
const (
	MinPriority    = -100
	MaxPriority    = 100
	MaxMaxRetries  = 100
	maxTenantIDLen = 128
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_.:-]{0,63}$`)

// ValidateType reports whether t is a syntactically valid job type.
func ValidateType(t string) error {
	if !typePattern.MatchString(t) {
		return fmt.Errorf("%w: job type %q must match %s", conveyor.ErrInvalidJob, t, typePattern)
	}
	return nil
}

// ValidateTenantID reports whether tenantID is syntactically valid. It does
// not check that the tenant exists or is active.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" || len(tenantID) > maxTenantIDLen {
		return fmt.Errorf("%w: tenant id must be 1-%d characters", conveyor.ErrInvalidTenant, maxTenantIDLen)
	}
	if strings.IndexFunc(tenantID, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: tenant id %q contains whitespace", conveyor.ErrInvalidTenant, tenantID)
	}
	return nil
}

// Validate checks a job before it is enqueued.
func Validate(j *Job) error {
	if err := ValidateTenantID(j.TenantID); err != nil {
		return err
	}
	if err := ValidateType(j.Type); err != nil {
		return err
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d, %d]", conveyor.ErrInvalidJob, j.Priority, MinPriority, MaxPriority)
	}
	if j.MaxRetries < 0 || j.MaxRetries > MaxMaxRetries {
		return fmt.Errorf("%w: max retries %d outside [0, %d]", conveyor.ErrInvalidJob, j.MaxRetries, MaxMaxRetries)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", conveyor.ErrInvalidJob)
	}
	return nil
}
