package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/repository"
	"github.com/relaycore/smsqueue/internal/service"
)

// Sweeper polls the database for in-flight entries whose confirmation window
// has elapsed and resolves them as transient failures: retried if budget
// remains, terminally failed otherwise, then the next entry for the key is
// dispatched.
//
// A sweep racing a late real callback is safe: both go through the same
// CAS-guarded transition, so exactly one of them applies.
//
// This DB-backed approach means stall detection survives server restarts:
// the deadline is derived from persisted dispatched_at and timeout_minutes,
// not from in-memory timers.
type Sweeper struct {
	repo       repository.QueueRepository
	dispatcher *service.Dispatcher
	interval   time.Duration
	logger     *zap.Logger
	onSwept    func()
}

// NewSweeper constructs a sweeper. onSwept is optional (nil = no-op).
func NewSweeper(
	repo repository.QueueRepository,
	dispatcher *service.Dispatcher,
	interval time.Duration,
	logger *zap.Logger,
	onSwept func(),
) *Sweeper {
	if onSwept == nil {
		onSwept = func() {}
	}
	return &Sweeper{
		repo: repo, dispatcher: dispatcher, interval: interval,
		logger: logger, onSwept: onSwept,
	}
}

// Run ticks every interval and resolves any stalled entries.
// Stops cleanly when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("stall sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stall sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so tests and operational tooling can invoke
// a sweep without the ticker loop.
func (s *Sweeper) Sweep(ctx context.Context) {
	stalled, err := s.repo.FindStalled(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("stall sweep query failed", zap.Error(err))
		return
	}

	for _, e := range stalled {
		s.logger.Warn("entry stalled in flight",
			zap.String("entry_id", e.ID),
			zap.String("recipient_id", e.RecipientID),
			zap.String("channel", e.Channel),
			zap.Timep("dispatched_at", e.DispatchedAt),
		)
		if err := s.dispatcher.ResolveFailure(ctx, e, service.FailureTransient, "no delivery confirmation within timeout"); err != nil {
			s.logger.Error("failed to resolve stalled entry",
				zap.String("entry_id", e.ID), zap.Error(err))
			continue
		}
		s.onSwept()
	}

	if len(stalled) > 0 {
		s.logger.Info("resolved stalled entries", zap.Int("count", len(stalled)))
	}
}
