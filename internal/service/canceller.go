package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/repository"
)

// Canceller cascades a terminal recipient-level signal (opt-out, permanent
// delivery failure) into cancellation of all of that recipient's still
// pending entries, across every channel.
//
// Cancellation is state-based, not preemptive: an entry already handed to
// the gateway finishes its own resolution path; only entries that have not
// been sent yet are forced to cancelled. Terminal rows are untouched, so
// repeated calls are no-ops.
type Canceller struct {
	repo   repository.QueueRepository
	logger *zap.Logger
	hooks  MetricHooks
}

func NewCanceller(repo repository.QueueRepository, logger *zap.Logger, hooks MetricHooks) *Canceller {
	return &Canceller{repo: repo, logger: logger, hooks: hooks.fill()}
}

// CancelRecipient bulk-cancels the recipient's pending entries and returns
// how many were affected. Safe to call concurrently with dispatch and
// reconciliation on the same recipient: each entry's outcome is decided by
// whichever status transition wins.
func (c *Canceller) CancelRecipient(ctx context.Context, recipientID string) (int64, error) {
	n, err := c.repo.CancelAllPending(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("cancel recipient %s: %w", recipientID, err)
	}
	if n > 0 {
		c.hooks.OnCancelled(n)
		c.logger.Info("cancelled pending entries",
			zap.String("recipient_id", recipientID),
			zap.Int64("count", n),
		)
	}
	return n, nil
}
