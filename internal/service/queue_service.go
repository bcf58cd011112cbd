package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/repository"
)

// EntryDefaults are applied to every entry a producer enqueues.
type EntryDefaults struct {
	MaxRetries     int
	TimeoutMinutes int
}

// QueueService is the producer-facing surface: it accepts ordered message
// batches, assigns or validates sequence numbers, and nudges the dispatcher.
// HTTP handlers depend on this service, not on the repository directly.
type QueueService struct {
	repo       repository.QueueRepository
	dispatcher *Dispatcher
	defaults   EntryDefaults
	logger     *zap.Logger
	hooks      MetricHooks
}

func NewQueueService(
	repo repository.QueueRepository,
	dispatcher *Dispatcher,
	defaults EntryDefaults,
	logger *zap.Logger,
	hooks MetricHooks,
) *QueueService {
	return &QueueService{
		repo: repo, dispatcher: dispatcher, defaults: defaults,
		logger: logger, hooks: hooks.fill(),
	}
}

// Enqueue stores an ordered batch for the (recipient, channel) pair and
// triggers dispatch of the first eligible entry.
//
// Sequence numbers: when the batch carries none, they are assigned from the
// key's current maximum upward. When supplied explicitly they must be
// strictly ascending and above everything already stored; collisions are
// rejected by the store's unique constraint as ErrDuplicateSequence.
func (s *QueueService) Enqueue(ctx context.Context, recipientID, channel string, req domain.EnqueueRequest) ([]*domain.QueueEntry, error) {
	if err := domain.ValidateKey(recipientID, channel); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxSeq, err := s.repo.MaxSequence(ctx, recipientID, channel)
	if err != nil {
		return nil, fmt.Errorf("max sequence: %w", err)
	}

	explicit := req.Messages[0].Sequence != nil
	if explicit && *req.Messages[0].Sequence <= maxSeq {
		return nil, domain.ErrSequenceNotAscending
	}

	now := time.Now().UTC()
	entries := make([]*domain.QueueEntry, len(req.Messages))
	for i, msg := range req.Messages {
		seq := maxSeq + int64(i) + 1
		if explicit {
			seq = *msg.Sequence
		}
		entries[i] = &domain.QueueEntry{
			ID:             uuid.New().String(),
			RecipientID:    recipientID,
			Channel:        channel,
			SequenceNumber: seq,
			Body:           msg.Body,
			MediaURLs:      msg.MediaURLs,
			Status:         domain.StatusPending,
			MaxRetries:     s.defaults.MaxRetries,
			TimeoutMinutes: s.defaults.TimeoutMinutes,
			CreatedAt:      now,
		}
	}

	if err := s.repo.CreateMany(ctx, entries); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	// The batch is durably stored at this point. A dispatch hiccup here is
	// logged rather than surfaced: the entries stay pending and any later
	// resolution or enqueue on this key re-triggers dispatch.
	if err := s.dispatcher.DispatchNext(ctx, recipientID, channel); err != nil {
		s.logger.Error("dispatch after enqueue failed",
			zap.String("recipient_id", recipientID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}

	s.hooks.OnEnqueued(len(entries))
	s.logger.Info("batch enqueued",
		zap.String("recipient_id", recipientID),
		zap.String("channel", channel),
		zap.Int("count", len(entries)),
	)
	return entries, nil
}

// Status returns the per-(recipient, channel) counts summary.
func (s *QueueService) Status(ctx context.Context, recipientID, channel string) (*domain.ChannelStatus, error) {
	if err := domain.ValidateKey(recipientID, channel); err != nil {
		return nil, err
	}
	return s.repo.ChannelStatus(ctx, recipientID, channel)
}

// GetByID fetches one entry for operational inspection.
func (s *QueueService) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	return s.repo.GetByID(ctx, id)
}
