package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

// SubmitDeadLetter stores e or folds it into the newest pending entry with
// the same dedup key. The check and the write run in one script.
func (s *Store) SubmitDeadLetter(ctx context.Context, e *dlq.Entry, window time.Duration) (*dlq.Entry, bool, error) {
	eID := e.ID.String()
	keys := []string{dedupKey(e.DedupKey()), entryKey(eID), entryIDsKey, entryPendingKey}
	args := append([]interface{}{
		entryKeyPrefix,
		eID,
		formatMillis(e.CreatedAt.Add(-window)),
		e.ErrorMessage,
		e.ErrorCode,
		e.Stack,
		formatTime(e.LastAttemptAt),
		formatMillis(e.LastAttemptAt),
		formatTime(e.CreatedAt),
	}, pairs(entryToMap(e))...)

	res, err := submitScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("conveyor/redis: submit dead letter: %w", err)
	}
	deduped := res[0] == int64(1)
	storedID, _ := res[1].(string)

	stored, err := s.getEntryByKey(ctx, entryKey(storedID))
	if err != nil {
		return nil, false, err
	}
	return stored, deduped, nil
}

// ClaimDeadLetters moves eligible pending entries to retrying.
func (s *Store) ClaimDeadLetters(ctx context.Context, c dlq.RetryClaim) ([]*dlq.Entry, error) {
	ids, err := claimEntriesScript.Run(ctx, s.client, []string{entryPendingKey},
		entryKeyPrefix,
		formatMillis(c.AttemptedBefore),
		c.TenantID,
		strconv.Itoa(c.MaxFailures),
		strconv.Itoa(c.Limit),
		formatTime(c.Now),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: claim dead letters: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			return nil, getErr
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, k int) bool {
		return entries[i].LastAttemptAt.Before(entries[k].LastAttemptAt)
	})
	return entries, nil
}

// entryTransition runs the entry transition script and returns the
// updated entry.
func (s *Store) entryTransition(ctx context.Context, entryID id.EntryID, mode string, at time.Time, text, resolvedBy string) (*dlq.Entry, error) {
	eID := entryID.String()
	key := entryKey(eID)

	res, err := entryTransitionScript.Run(ctx, s.client, []string{key, entryPendingKey},
		eID, mode, formatTime(at), formatMillis(at), text, resolvedBy).Slice()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: %s dead letter: %w", mode, err)
	}
	switch code, _ := res[0].(int64); code {
	case -1:
		return nil, conveyor.ErrDeadLetterNotFound
	case 0:
		return nil, fmt.Errorf("%w: entry is %v", conveyor.ErrInvalidState, res[1])
	}
	return s.getEntryByKey(ctx, key)
}

// FailDeadLetterRetry returns a retrying entry to pending.
func (s *Store) FailDeadLetterRetry(ctx context.Context, entryID id.EntryID, errMsg string, at time.Time) (*dlq.Entry, error) {
	return s.entryTransition(ctx, entryID, "fail", at, errMsg, "")
}

// ResolveDeadLetter moves a pending or retrying entry to resolved.
func (s *Store) ResolveDeadLetter(ctx context.Context, entryID id.EntryID, notes, resolvedBy string, at time.Time) (*dlq.Entry, error) {
	return s.entryTransition(ctx, entryID, "resolve", at, notes, resolvedBy)
}

// ArchiveDeadLetters archives stale or repeatedly failing pending entries.
func (s *Store) ArchiveDeadLetters(ctx context.Context, createdBefore time.Time, maxFailures int, at time.Time) (int64, error) {
	n, err := archiveScript.Run(ctx, s.client, []string{entryPendingKey},
		entryKeyPrefix, formatMillis(createdBefore), strconv.Itoa(maxFailures), formatTime(at)).Int64()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: archive dead letters: %w", err)
	}
	return n, nil
}

// DeadLetterStats aggregates entries of one tenant or all tenants.
func (s *Store) DeadLetterStats(ctx context.Context, tenantID string) (*dlq.Stats, error) {
	entries, err := s.scanEntries(ctx, tenantID, "")
	if err != nil {
		return nil, err
	}

	stats := &dlq.Stats{Counts: make(map[dlq.Status]int64)}
	var failures int64
	for _, e := range entries {
		stats.Counts[e.Status]++
		stats.Total++
		failures += int64(e.FailureCount)
		created := e.CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			stats.Oldest = &created
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			newest := created
			stats.Newest = &newest
		}
	}
	if stats.Total > 0 {
		stats.AvgFailureCount = float64(failures) / float64(stats.Total)
	}
	return stats, nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.EntryID) (*dlq.Entry, error) {
	return s.getEntryByKey(ctx, entryKey(entryID.String()))
}

// ListDeadLetters returns entries matching opts, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	entries, err := s.scanEntries(ctx, opts.TenantID, opts.Status)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].CreatedAt.Equal(entries[k].CreatedAt) {
			return entries[i].CreatedAt.After(entries[k].CreatedAt)
		}
		return entries[i].ID.String() > entries[k].ID.String()
	})
	return paginate(entries, opts.Offset, opts.Limit), nil
}

// ── helpers ──

func (s *Store) scanEntries(ctx context.Context, tenantID string, status dlq.Status) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list dead letters smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, entryKey(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/redis: list dead letters hgetall: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, parseErr := mapToEntry(vals)
		if parseErr != nil {
			s.logger.Warn("skipping unreadable dead letter hash", slog.String("error", parseErr.Error()))
			continue
		}
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) getEntryByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get dead letter: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrDeadLetterNotFound
	}
	e, err := mapToEntry(vals)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse dead letter: %w", err)
	}
	return e, nil
}
