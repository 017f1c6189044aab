package dlq

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Replay re-enqueues an entry as a new pending job of the entry's JobType
// and resolves the entry with a note naming the new job. Entries that
// did not come from a job carry no type and yield
// conveyor.ErrNotReplayable.
func (s *Service) Replay(ctx context.Context, entryID id.EntryID, resolvedBy string) (*job.Job, error) {
	if s.enqueuer == nil {
		return nil, errors.New("dlq: replay requires an enqueuer")
	}

	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.JobType == "" {
		return nil, conveyor.ErrNotReplayable
	}
	if entry.Status != StatusPending && entry.Status != StatusRetrying {
		return nil, fmt.Errorf("%w: entry is %s", conveyor.ErrInvalidState, entry.Status)
	}

	j, err := s.enqueuer.EnqueueRaw(ctx, entry.TenantID, entry.JobType, entry.Payload)
	if err != nil {
		return nil, err
	}

	if _, err := s.Resolve(ctx, entryID, "replayed as "+j.ID.String(), resolvedBy); err != nil {
		// The job is already enqueued; surface both.
		return j, err
	}
	return j, nil
}
