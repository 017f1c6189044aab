package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound        = errors.New("conveyor: job not found")
	ErrDeadLetterNotFound = errors.New("conveyor: dead letter entry not found")
	ErrTenantNotFound     = errors.New("conveyor: tenant not found")
	ErrNoHandler          = errors.New("conveyor: no handler registered for job type")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// Validation errors.
	ErrInvalidJob     = errors.New("conveyor: invalid job")
	ErrInvalidConfig  = errors.New("conveyor: invalid config")
	ErrNotReplayable  = errors.New("conveyor: dead letter entry has no job type")
	ErrInvalidTenant  = errors.New("conveyor: invalid tenant")
	ErrInvalidRequest = errors.New("conveyor: invalid request")

	// State errors.
	ErrInvalidState = errors.New("conveyor: invalid state transition")

	// ErrLeaseLost is returned when a caller reports an outcome for a job it
	// no longer owns: the job left processing, or was claimed again under a
	// newer attempt.
	ErrLeaseLost = errors.New("conveyor: lease lost")
)
