package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

const jobColumns = `
	id, tenant_id, type, priority, payload, result, state, unique_key,
	scheduled_for, not_before, max_retries, retry_count, attempt,
	dead_letter, timeout, started_at, completed_at,
	error_message, error_stack, last_error_at, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22
		)`,
		j.ID.String(), j.TenantID, j.Type, j.Priority,
		nullableJSON(j.Payload), nullableJSON(j.Result), string(j.State), j.UniqueKey,
		j.ScheduledFor, j.NotBefore, j.MaxRetries, j.RetryCount, j.Attempt,
		j.DeadLetter, j.Timeout.Nanoseconds(), j.StartedAt, j.CompletedAt,
		j.ErrorMessage, j.ErrorStack, j.LastErrorAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Duplicate ID or (tenant, unique_key).
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob claims the most urgent eligible pending job of an active
// tenant in a single statement. Rows locked by a concurrent claim are
// skipped.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs
		SET state = 'processing', started_at = $1, attempt = attempt + 1, updated_at = $1
		WHERE id = (
			SELECT j.id FROM conveyor_jobs j
			JOIN conveyor_tenants t ON t.id = j.tenant_id AND t.status = 'active'
			WHERE j.state = 'pending'
			  AND j.scheduled_for <= $1
			  AND (j.not_before IS NULL OR j.not_before <= $1)
			  AND (COALESCE(cardinality($2::text[]), 0) = 0 OR j.type = ANY($2::text[]))
			  AND ($3::text = '' OR j.tenant_id = $3::text)
			ORDER BY j.priority ASC, j.scheduled_for ASC, j.id ASC
			FOR UPDATE OF j SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		now.UTC(), opts.Types, opts.TenantID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: claim job: %w", err)
	}
	return j, nil
}

// CompleteJob moves a processing job to completed.
func (s *Store) CompleteJob(ctx context.Context, lease job.Lease, result []byte, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'completed', result = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND state = 'processing' AND attempt = $2`,
		lease.JobID.String(), lease.Attempt, nullableJSON(result), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, lease)
	}
	return nil
}

// RetryJob moves a processing job back to pending with a new schedule.
func (s *Store) RetryJob(ctx context.Context, lease job.Lease, u job.RetryUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'pending', retry_count = $3, scheduled_for = $4,
			error_message = $5, error_stack = $6, last_error_at = $7, updated_at = $7
		WHERE id = $1 AND state = 'processing' AND attempt = $2`,
		lease.JobID.String(), lease.Attempt, u.RetryCount, u.ScheduledFor.UTC(),
		u.ErrorMessage, u.ErrorStack, u.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, lease)
	}
	return nil
}

// BuryJob moves a processing job to dead. RetryCount is pinned to
// MaxRetries.
func (s *Store) BuryJob(ctx context.Context, lease job.Lease, u job.DeadUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'dead', retry_count = max_retries,
			error_message = $3, error_stack = $4,
			last_error_at = $5, completed_at = $5, updated_at = $5
		WHERE id = $1 AND state = 'processing' AND attempt = $2`,
		lease.JobID.String(), lease.Attempt, u.ErrorMessage, u.ErrorStack, u.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: bury job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, lease)
	}
	return nil
}

// ReleaseJob returns a processing job to pending without consuming a retry.
func (s *Store) ReleaseJob(ctx context.Context, lease job.Lease, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'pending', scheduled_for = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'processing' AND attempt = $2`,
		lease.JobID.String(), lease.Attempt, runAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, lease)
	}
	return nil
}

// leaseMiss resolves a guarded update that touched no rows into
// ErrJobNotFound or ErrLeaseLost.
func (s *Store) leaseMiss(ctx context.Context, lease job.Lease) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = $1)`,
		lease.JobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: check lease: %w", err)
	}
	if !exists {
		return conveyor.ErrJobNotFound
	}
	return conveyor.ErrLeaseLost
}

// CancelJob cancels a pending or processing job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, at time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs
		SET state = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND state IN ('pending', 'processing')
		RETURNING`+jobColumns,
		jobID.String(), at.UTC(),
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}

	existing, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job is %s", conveyor.ErrInvalidState, existing.State)
}

// CancelTenantJobs cancels every pending job of a tenant.
func (s *Store) CancelTenantJobs(ctx context.Context, tenantID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'cancelled', completed_at = $2, updated_at = $2
		WHERE tenant_id = $1 AND state = 'pending'`,
		tenantID, at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: cancel tenant jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByUniqueKey retrieves a job by its tenant-scoped unique key.
func (s *Store) GetJobByUniqueKey(ctx context.Context, tenantID, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM conveyor_jobs WHERE tenant_id = $1 AND unique_key = $2`,
		tenantID, key,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job by unique key: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := jobFilter(opts.TenantID, opts.Type, opts.State)
	query := `SELECT` + jobColumns + ` FROM conveyor_jobs` + where +
		` ORDER BY created_at ASC, id ASC`

	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limitArg(opts.Limit), opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListExpiredLeases returns processing jobs started before startedBefore,
// oldest first.
func (s *Store) ListExpiredLeases(ctx context.Context, startedBefore time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM conveyor_jobs
		WHERE state = 'processing' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`,
		startedBefore.UTC(), limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list expired leases: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := jobFilter(opts.TenantID, opts.Type, opts.State)

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conveyor_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// jobFilter builds the WHERE clause shared by ListJobs and CountJobs.
func jobFilter(tenantID, jobType string, state job.State) (string, []any) {
	where := ` WHERE 1=1`
	var args []any

	if tenantID != "" {
		args = append(args, tenantID)
		where += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if jobType != "" {
		args = append(args, jobType)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if state != "" {
		args = append(args, string(state))
		where += fmt.Sprintf(" AND state = $%d", len(args))
	}
	return where, args
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		payload   []byte
		result    []byte
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.Type, &j.Priority, &payload, &result, &stateStr, &j.UniqueKey,
		&j.ScheduledFor, &j.NotBefore, &j.MaxRetries, &j.RetryCount, &j.Attempt,
		&j.DeadLetter, &timeoutNs, &j.StartedAt, &j.CompletedAt,
		&j.ErrorMessage, &j.ErrorStack, &j.LastErrorAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.Payload = payload
	j.Result = result

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
