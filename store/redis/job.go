package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// EnqueueJob stores the job as a Hash and schedules it on the delayed set.
// The claim script promotes it once it is eligible.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	unique := ""
	if j.UniqueKey != "" {
		unique = uniqueKey(j.TenantID, j.UniqueKey)
	}

	keys := []string{jobKey(jID), jobIDsKey, tenantJobsKey(j.TenantID), delayedKey, unique}
	args := append([]interface{}{jID, formatMillis(j.EligibleAt())}, pairs(jobToMap(j))...)

	ok, err := enqueueScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: enqueue job: %w", err)
	}
	if ok == 0 {
		return conveyor.ErrJobAlreadyExists
	}
	return nil
}

// ClaimJob claims the most urgent eligible pending job of an active tenant.
// Due jobs of inactive tenants are parked until PutTenant activates them.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	args := []interface{}{formatMillis(now), formatTime(now), opts.TenantID, jobKeyPrefix, parkedKeyPrefix}
	for _, t := range opts.Types {
		args = append(args, t)
	}

	jID, err := claimScript.Run(ctx, s.client,
		[]string{delayedKey, readyKey, processingKey, tenantStatusKey}, args...).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: claim job: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// transition runs the lease-guarded transition script.
func (s *Store) transition(ctx context.Context, lease job.Lease, mode string, scheduledMs string, fields map[string]string) error {
	jID := lease.JobID.String()
	args := append([]interface{}{jID, strconv.Itoa(lease.Attempt), mode, scheduledMs}, pairs(fields)...)

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), processingKey, delayedKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("conveyor/redis: %s job: %w", mode, err)
	}
	switch res {
	case -1:
		return conveyor.ErrJobNotFound
	case 0:
		return conveyor.ErrLeaseLost
	}
	return nil
}

// CompleteJob moves a processing job to completed.
func (s *Store) CompleteJob(ctx context.Context, lease job.Lease, result []byte, at time.Time) error {
	ts := formatTime(at)
	return s.transition(ctx, lease, "complete", "", map[string]string{
		"state":        string(job.StateCompleted),
		"result":       string(result),
		"completed_at": ts,
		"updated_at":   ts,
	})
}

// RetryJob moves a processing job back to pending with a new schedule.
func (s *Store) RetryJob(ctx context.Context, lease job.Lease, u job.RetryUpdate) error {
	ts := formatTime(u.At)
	return s.transition(ctx, lease, "retry", formatMillis(u.ScheduledFor), map[string]string{
		"state":         string(job.StatePending),
		"retry_count":   strconv.Itoa(u.RetryCount),
		"scheduled_for": formatTime(u.ScheduledFor),
		"error_message": u.ErrorMessage,
		"error_stack":   u.ErrorStack,
		"last_error_at": ts,
		"updated_at":    ts,
	})
}

// BuryJob moves a processing job to dead.
func (s *Store) BuryJob(ctx context.Context, lease job.Lease, u job.DeadUpdate) error {
	ts := formatTime(u.At)
	return s.transition(ctx, lease, "bury", "", map[string]string{
		"state":         string(job.StateDead),
		"error_message": u.ErrorMessage,
		"error_stack":   u.ErrorStack,
		"last_error_at": ts,
		"completed_at":  ts,
		"updated_at":    ts,
	})
}

// ReleaseJob returns a processing job to pending without consuming a retry.
func (s *Store) ReleaseJob(ctx context.Context, lease job.Lease, runAt time.Time) error {
	return s.transition(ctx, lease, "release", formatMillis(runAt), map[string]string{
		"state":         string(job.StatePending),
		"scheduled_for": formatTime(runAt),
		"updated_at":    formatTime(time.Now()),
	})
}

// CancelJob cancels a pending or processing job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, at time.Time) (*job.Job, error) {
	jID := jobID.String()
	key := jobKey(jID)

	res, err := cancelScript.Run(ctx, s.client,
		[]string{key, delayedKey, readyKey, processingKey}, jID, formatTime(at), parkedKeyPrefix).Slice()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: cancel job: %w", err)
	}
	switch code, _ := res[0].(int64); code {
	case -1:
		return nil, conveyor.ErrJobNotFound
	case 0:
		return nil, fmt.Errorf("%w: job is %v", conveyor.ErrInvalidState, res[1])
	}
	return s.getJobByKey(ctx, key)
}

// CancelTenantJobs cancels every pending job of a tenant.
func (s *Store) CancelTenantJobs(ctx context.Context, tenantID string, at time.Time) (int64, error) {
	n, err := cancelTenantScript.Run(ctx, s.client,
		[]string{tenantJobsKey(tenantID), delayedKey, readyKey, parkedKey(tenantID)}, jobKeyPrefix, formatTime(at)).Int64()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: cancel tenant jobs: %w", err)
	}
	return n, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// GetJobByUniqueKey retrieves a job by its tenant-scoped unique key.
func (s *Store) GetJobByUniqueKey(ctx context.Context, tenantID, key string) (*job.Job, error) {
	jID, err := s.client.Get(ctx, uniqueKey(tenantID, key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get unique key: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, opts.TenantID, opts.Type, opts.State)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return id.Compare(jobs[i].ID, jobs[k].ID) < 0
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// ListExpiredLeases returns processing jobs started before startedBefore,
// longest running first.
func (s *Store) ListExpiredLeases(ctx context.Context, startedBefore time.Time, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, processingKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + formatMillis(startedBefore),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list expired leases: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateProcessing || j.StartedAt == nil || !j.StartedAt.Before(startedBefore) {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, opts.TenantID, opts.Type, opts.State)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// ── helpers ──

// scanJobs loads every job that matches the filters. A tenant filter
// narrows the scan to that tenant's index.
func (s *Store) scanJobs(ctx context.Context, tenantID, jobType string, state job.State) ([]*job.Job, error) {
	index := jobIDsKey
	if tenantID != "" {
		index = tenantJobsKey(tenantID)
	}
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs hgetall: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, parseErr := mapToJob(vals)
		if parseErr != nil {
			s.logger.Warn("skipping unreadable job hash", slog.String("error", parseErr.Error()))
			continue
		}
		if jobType != "" && j.Type != jobType {
			continue
		}
		if state != "" && j.State != state {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	j, err := mapToJob(vals)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job: %w", err)
	}
	return j, nil
}

// paginate applies offset and limit. A zero limit means no limit.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
