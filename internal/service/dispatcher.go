package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/provider"
	"github.com/relaycore/smsqueue/internal/ratelimiter"
	"github.com/relaycore/smsqueue/internal/repository"
)

// Dispatcher advances one (recipient, channel) queue at a time: it claims
// the lowest-sequence pending entry with a CAS to in_flight and hands it to
// the gateway. At most one entry per key is ever in_flight; that single row
// is the ordering lock.
//
// DispatchNext is invoked from enqueue, from every entry resolution, and
// from the stall sweeper. It is safe to call redundantly and concurrently:
// the in-flight check plus the CAS make redundant calls no-ops.
type Dispatcher struct {
	repo     repository.QueueRepository
	prov     provider.Provider
	classify *Classifier
	cancel   *Canceller
	limiter  *ratelimiter.GatewayLimiter
	logger   *zap.Logger
	hooks    MetricHooks
}

func NewDispatcher(
	repo repository.QueueRepository,
	prov provider.Provider,
	classify *Classifier,
	cancel *Canceller,
	limiter *ratelimiter.GatewayLimiter,
	logger *zap.Logger,
	hooks MetricHooks,
) *Dispatcher {
	return &Dispatcher{
		repo: repo, prov: prov, classify: classify, cancel: cancel,
		limiter: limiter, logger: logger, hooks: hooks.fill(),
	}
}

// DispatchNext sends the next eligible entry for the key, if any.
// Store errors propagate to the caller; business outcomes (rejection,
// retry, cascade) are resolved internally.
func (d *Dispatcher) DispatchNext(ctx context.Context, recipientID, channel string) error {
	inFlight, err := d.repo.InFlight(ctx, recipientID, channel)
	if err != nil {
		return fmt.Errorf("in-flight check: %w", err)
	}
	if inFlight != nil {
		return nil // ordering lock held, resolution will re-trigger us
	}

	next, err := d.repo.NextPending(ctx, recipientID, channel)
	if err != nil {
		return fmt.Errorf("next pending: %w", err)
	}
	if next == nil {
		return nil
	}

	now := time.Now().UTC()
	applied, err := d.repo.Transition(ctx, next.ID, domain.StatusPending, domain.StatusInFlight,
		domain.TransitionFields{DispatchedAt: &now})
	if err != nil {
		return fmt.Errorf("claim entry: %w", err)
	}
	if !applied {
		// Lost the claim to a concurrent dispatch or a cancellation.
		return nil
	}
	next.Status = domain.StatusInFlight
	next.DispatchedAt = &now

	return d.send(ctx, next)
}

func (d *Dispatcher) send(ctx context.Context, e *domain.QueueEntry) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err // ctx cancelled while waiting, shutdown in progress
	}

	d.hooks.OnDispatched()
	resp, err := d.prov.Send(ctx, e)
	if err != nil {
		// Synchronous rejection: apply the failure policy now instead of
		// waiting for a callback that will never come.
		class := FailureTransient
		var sendErr *provider.SendError
		if errors.As(err, &sendErr) {
			class = d.classify.Classify(sendErr.Code)
		}
		d.logger.Warn("gateway rejected send",
			zap.String("entry_id", e.ID),
			zap.String("recipient_id", e.RecipientID),
			zap.Int("retry_count", e.RetryCount),
			zap.Error(err),
		)
		return d.ResolveFailure(ctx, e, class, err.Error())
	}

	// Record the ref with a same-state update so callbacks can find the
	// entry. A failed CAS here means the sweeper or a cancellation resolved
	// the entry while the send was on the wire; the late ref is dropped and
	// any callback for it will be discarded as unknown.
	applied, err := d.repo.Transition(ctx, e.ID, domain.StatusInFlight, domain.StatusInFlight,
		domain.TransitionFields{DispatchRef: &resp.MessageRef})
	if err != nil {
		return fmt.Errorf("record dispatch ref: %w", err)
	}
	if !applied {
		d.logger.Warn("entry resolved before dispatch ref was recorded",
			zap.String("entry_id", e.ID),
			zap.String("dispatch_ref", resp.MessageRef),
		)
		return nil
	}

	d.logger.Info("entry dispatched",
		zap.String("entry_id", e.ID),
		zap.String("recipient_id", e.RecipientID),
		zap.String("channel", e.Channel),
		zap.Int64("sequence", e.SequenceNumber),
		zap.String("dispatch_ref", resp.MessageRef),
	)
	return nil
}

// ResolveFailure applies the shared failure policy to an in-flight entry.
// It is the single path used by synchronous rejections, failure callbacks,
// and the stall sweeper, so all three race safely through the same CAS:
// whichever caller wins applies the transition, the loser's becomes a no-op.
func (d *Dispatcher) ResolveFailure(ctx context.Context, e *domain.QueueEntry, class FailureClass, cause string) error {
	now := time.Now().UTC()

	if class == FailurePermanent {
		applied, err := d.repo.Transition(ctx, e.ID, domain.StatusInFlight, domain.StatusFailed,
			domain.TransitionFields{LastError: &cause, ResolvedAt: &now})
		if err != nil {
			return fmt.Errorf("mark permanent failure: %w", err)
		}
		if !applied {
			return nil
		}
		d.hooks.OnFailed("permanent")
		d.logger.Warn("permanent delivery failure, cancelling recipient",
			zap.String("entry_id", e.ID),
			zap.String("recipient_id", e.RecipientID),
			zap.String("cause", cause),
		)
		// Continuing would keep hitting the same wall: one permanent
		// failure cancels all of the recipient's remaining pending work.
		_, err = d.cancel.CancelRecipient(ctx, e.RecipientID)
		return err
	}

	if e.RetryCount < e.MaxRetries {
		retries := e.RetryCount + 1
		applied, err := d.repo.Transition(ctx, e.ID, domain.StatusInFlight, domain.StatusPending,
			domain.TransitionFields{RetryCount: &retries, LastError: &cause})
		if err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		if !applied {
			return nil
		}
		d.hooks.OnRetried()
	} else {
		applied, err := d.repo.Transition(ctx, e.ID, domain.StatusInFlight, domain.StatusFailed,
			domain.TransitionFields{LastError: &cause, ResolvedAt: &now})
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if !applied {
			return nil
		}
		d.hooks.OnFailed("exhausted")
		d.logger.Warn("retry budget exhausted",
			zap.String("entry_id", e.ID),
			zap.Int("retries", e.RetryCount),
			zap.String("cause", cause),
		)
	}

	// Either the retried entry goes out again, or the next sequence number
	// proceeds so one bad message cannot block the channel forever.
	return d.DispatchNext(ctx, e.RecipientID, e.Channel)
}
