package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/repository"
)

// Reconciler consumes asynchronous delivery-outcome callbacks from the
// gateway. Callbacks may duplicate, arrive arbitrarily late, or never
// arrive; every transition here is CAS-guarded so a duplicate or a race
// with the stall sweeper collapses into a no-op.
type Reconciler struct {
	repo       repository.QueueRepository
	dispatcher *Dispatcher
	classify   *Classifier
	logger     *zap.Logger
	hooks      MetricHooks
}

func NewReconciler(
	repo repository.QueueRepository,
	dispatcher *Dispatcher,
	classify *Classifier,
	logger *zap.Logger,
	hooks MetricHooks,
) *Reconciler {
	return &Reconciler{
		repo: repo, dispatcher: dispatcher, classify: classify,
		logger: logger, hooks: hooks.fill(),
	}
}

// Reconcile applies one delivery-outcome notification. Unknown refs are
// logged and discarded: under at-least-once delivery from the gateway they
// are expected, not faults. Store errors propagate so the webhook responds
// 5xx and the gateway redelivers.
func (r *Reconciler) Reconcile(ctx context.Context, ref string, outcome domain.Outcome, errorCode, errorMessage string) error {
	if !outcome.IsValid() {
		return domain.ErrInvalidOutcome
	}
	if !outcome.DrivesTransition() {
		// queued/sent are progress reports, informational only.
		r.hooks.OnCallback(string(outcome))
		return nil
	}

	e, err := r.repo.ByDispatchRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("resolve dispatch ref: %w", err)
	}
	if e == nil {
		r.hooks.OnCallback("unknown_ref")
		r.logger.Info("callback for unknown dispatch ref, discarding",
			zap.String("dispatch_ref", ref),
			zap.String("outcome", string(outcome)),
		)
		return nil
	}
	r.hooks.OnCallback(string(outcome))

	if outcome == domain.OutcomeDelivered {
		now := time.Now().UTC()
		applied, err := r.repo.Transition(ctx, e.ID, domain.StatusInFlight, domain.StatusDelivered,
			domain.TransitionFields{ResolvedAt: &now})
		if err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}
		if !applied {
			// Duplicate callback or the sweeper won; already resolved.
			r.logger.Debug("delivered callback for already-resolved entry",
				zap.String("entry_id", e.ID))
			return nil
		}
		r.hooks.OnDelivered()
		r.logger.Info("entry delivered",
			zap.String("entry_id", e.ID),
			zap.String("recipient_id", e.RecipientID),
			zap.String("channel", e.Channel),
			zap.Int64("sequence", e.SequenceNumber),
		)
		return r.dispatcher.DispatchNext(ctx, e.RecipientID, e.Channel)
	}

	// failed / undelivered
	cause := errorMessage
	if cause == "" {
		cause = fmt.Sprintf("gateway reported %s (code %s)", outcome, errorCode)
	}
	return r.dispatcher.ResolveFailure(ctx, e, r.classify.Classify(errorCode), cause)
}
