package dlq

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Archiver periodically archives stale entries.
type Archiver struct {
	svc         *Service
	interval    time.Duration
	days        int
	maxFailures int
	logger      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver that runs Service.Archive every
// interval.
func NewArchiver(svc *Service, interval time.Duration, olderThanDays, maxFailures int, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		svc:         svc,
		interval:    interval,
		days:        olderThanDays,
		maxFailures: maxFailures,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the archive loop. A non-positive interval disables it.
func (a *Archiver) Start(ctx context.Context) error {
	if a.interval <= 0 {
		return nil
	}
	a.wg.Add(1)
	go a.loop(ctx)
	return nil
}

// Stop stops the loop and waits for an in-flight run.
func (a *Archiver) Stop(_ context.Context) error {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	a.wg.Wait()
	return nil
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.svc.Archive(ctx, a.days, a.maxFailures); err != nil {
				a.logger.Error("dead letter archive failed", slog.String("error", err.Error()))
			}
		}
	}
}
