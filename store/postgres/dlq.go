package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

const entryColumns = `
	id, tenant_id, correlation_id, payload, content_hash,
	error_message, error_code, stack, stage, job_type, job_id,
	failure_count, last_attempt_at, status,
	resolution_notes, resolved_at, resolved_by, created_at, updated_at`

// SubmitDeadLetter stores e or folds it into a matching pending entry.
// A transaction-scoped advisory lock on the dedup key serializes
// concurrent submissions of the same failure.
func (s *Store) SubmitDeadLetter(ctx context.Context, e *dlq.Entry, window time.Duration) (*dlq.Entry, bool, error) {
	var (
		stored  *dlq.Entry
		deduped bool
	)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			e.DedupKey(),
		); err != nil {
			return fmt.Errorf("lock dedup key: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE conveyor_dead_letters
			SET failure_count = failure_count + 1,
				error_message = $5, error_code = $6, stack = $7,
				last_attempt_at = $8, updated_at = $9
			WHERE id = (
				SELECT id FROM conveyor_dead_letters
				WHERE tenant_id = $1 AND correlation_id = $2 AND content_hash = $3
				  AND status = 'pending' AND created_at > $4
				ORDER BY created_at DESC
				LIMIT 1
			)
			RETURNING`+entryColumns,
			e.TenantID, e.CorrelationID, e.ContentHash, e.CreatedAt.Add(-window).UTC(),
			e.ErrorMessage, e.ErrorCode, e.Stack, e.LastAttemptAt.UTC(), e.CreatedAt.UTC(),
		)
		existing, err := scanEntry(row)
		if err == nil {
			stored, deduped = existing, true
			return nil
		}
		if !isNoRows(err) {
			return fmt.Errorf("fold into existing: %w", err)
		}

		row = tx.QueryRow(ctx, `
			INSERT INTO conveyor_dead_letters (`+entryColumns+`
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10, $11,
				$12, $13, $14,
				$15, $16, $17, $18, $19
			)
			RETURNING`+entryColumns,
			e.ID.String(), e.TenantID, e.CorrelationID, nullableBytes(e.Payload), e.ContentHash,
			e.ErrorMessage, e.ErrorCode, e.Stack, e.Stage, e.JobType, e.JobID,
			e.FailureCount, e.LastAttemptAt.UTC(), string(e.Status),
			e.ResolutionNotes, e.ResolvedAt, e.ResolvedBy, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
		)
		stored, err = scanEntry(row)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("conveyor/postgres: submit dead letter: %w", err)
	}
	return stored, deduped, nil
}

// ClaimDeadLetters moves eligible pending entries to retrying. Rows
// locked by a concurrent claim are skipped.
func (s *Store) ClaimDeadLetters(ctx context.Context, c dlq.RetryClaim) ([]*dlq.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE conveyor_dead_letters
		SET status = 'retrying', updated_at = $5
		WHERE id IN (
			SELECT id FROM conveyor_dead_letters
			WHERE status = 'pending'
			  AND ($1::text = '' OR tenant_id = $1::text)
			  AND failure_count < $2
			  AND last_attempt_at < $3
			ORDER BY last_attempt_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+entryColumns,
		c.TenantID, c.MaxFailures, c.AttemptedBefore.UTC(), limitArg(c.Limit), c.Now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: claim dead letters: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].LastAttemptAt.Before(entries[k].LastAttemptAt)
	})
	return entries, nil
}

// FailDeadLetterRetry returns a retrying entry to pending.
func (s *Store) FailDeadLetterRetry(ctx context.Context, entryID id.EntryID, errMsg string, at time.Time) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_dead_letters
		SET status = 'pending', failure_count = failure_count + 1,
			error_message = CASE WHEN $2::text <> '' THEN $2::text ELSE error_message END,
			last_attempt_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'retrying'
		RETURNING`+entryColumns,
		entryID.String(), errMsg, at.UTC(),
	)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("conveyor/postgres: fail dead letter retry: %w", err)
	}
	return nil, s.entryStateMiss(ctx, entryID)
}

// ResolveDeadLetter moves a pending or retrying entry to resolved.
func (s *Store) ResolveDeadLetter(ctx context.Context, entryID id.EntryID, notes, resolvedBy string, at time.Time) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_dead_letters
		SET status = 'resolved', resolution_notes = $2, resolved_by = $3,
			resolved_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'retrying')
		RETURNING`+entryColumns,
		entryID.String(), notes, resolvedBy, at.UTC(),
	)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("conveyor/postgres: resolve dead letter: %w", err)
	}
	return nil, s.entryStateMiss(ctx, entryID)
}

// entryStateMiss resolves a guarded update that touched no rows into
// ErrDeadLetterNotFound or ErrInvalidState.
func (s *Store) entryStateMiss(ctx context.Context, entryID id.EntryID) error {
	existing, err := s.GetDeadLetter(ctx, entryID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: entry is %s", conveyor.ErrInvalidState, existing.Status)
}

// ArchiveDeadLetters archives stale or repeatedly failing pending entries.
func (s *Store) ArchiveDeadLetters(ctx context.Context, createdBefore time.Time, maxFailures int, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dead_letters
		SET status = 'archived', updated_at = $3
		WHERE status = 'pending' AND (created_at < $1 OR failure_count >= $2)`,
		createdBefore.UTC(), maxFailures, at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: archive dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeadLetterStats aggregates entries of one tenant or all tenants.
func (s *Store) DeadLetterStats(ctx context.Context, tenantID string) (*dlq.Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(failure_count), 0), MIN(created_at), MAX(created_at)
		FROM conveyor_dead_letters
		WHERE ($1::text = '' OR tenant_id = $1::text)
		GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dead letter stats: %w", err)
	}
	defer rows.Close()

	stats := &dlq.Stats{Counts: make(map[dlq.Status]int64)}
	var failures int64
	for rows.Next() {
		var (
			status         string
			count, sum     int64
			oldest, newest time.Time
		)
		if err := rows.Scan(&status, &count, &sum, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan stats row: %w", err)
		}
		stats.Counts[dlq.Status(status)] = count
		stats.Total += count
		failures += sum
		if stats.Oldest == nil || oldest.Before(*stats.Oldest) {
			o := oldest
			stats.Oldest = &o
		}
		if stats.Newest == nil || newest.After(*stats.Newest) {
			n := newest
			stats.Newest = &n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate stats rows: %w", err)
	}
	if stats.Total > 0 {
		stats.AvgFailureCount = float64(failures) / float64(stats.Total)
	}
	return stats, nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.EntryID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+entryColumns+` FROM conveyor_dead_letters WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get dead letter: %w", err)
	}
	return e, nil
}

// ListDeadLetters returns entries matching opts, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + entryColumns + ` FROM conveyor_dead_letters WHERE 1=1`
	var args []any

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limitArg(opts.Limit), opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// scanEntry scans a single dead letter row.
func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		idStr   string
		status  string
		payload []byte
	)
	err := row.Scan(
		&idStr, &e.TenantID, &e.CorrelationID, &payload, &e.ContentHash,
		&e.ErrorMessage, &e.ErrorCode, &e.Stack, &e.Stage, &e.JobType, &e.JobID,
		&e.FailureCount, &e.LastAttemptAt, &status,
		&e.ResolutionNotes, &e.ResolvedAt, &e.ResolvedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = dlq.Status(status)
	e.Payload = payload

	parsedID, parseErr := id.ParseEntryID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse entry id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}

// collectEntries collects all entries from query rows.
func collectEntries(rows pgx.Rows) ([]*dlq.Entry, error) {
	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dead letter row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dead letter rows: %w", err)
	}
	return entries, nil
}
