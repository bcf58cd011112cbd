package repository

import (
	"context"
	"time"

	"github.com/relaycore/smsqueue/internal/domain"
)

// QueueRepository defines all persistence operations for queue entries.
// It carries no delivery policy: ordering, retry, and cancellation rules live
// in the service layer and are enforced here only through Transition, the
// compare-and-swap primitive every mutation path shares.
//
// Lookups that may legitimately find nothing (NextPending, InFlight,
// ByDispatchRef) return (nil, nil); GetByID returns domain.ErrNotFound.
//
// The pgx implementation is in pg_queue_repo.go.
// Tests use a hand-written mock (mock_queue_repo.go).
type QueueRepository interface {
	Create(ctx context.Context, e *domain.QueueEntry) error
	CreateMany(ctx context.Context, entries []*domain.QueueEntry) error
	GetByID(ctx context.Context, id string) (*domain.QueueEntry, error)

	NextPending(ctx context.Context, recipientID, channel string) (*domain.QueueEntry, error)
	InFlight(ctx context.Context, recipientID, channel string) (*domain.QueueEntry, error)
	ByDispatchRef(ctx context.Context, ref string) (*domain.QueueEntry, error)
	FindStalled(ctx context.Context, now time.Time) ([]*domain.QueueEntry, error)

	// Transition applies fields and moves the entry from -> to only if its
	// current status equals from. Returns whether the update applied.
	// A false result is never an error: another path already won the entry.
	Transition(ctx context.Context, id string, from, to domain.Status, fields domain.TransitionFields) (bool, error)

	// CancelAllPending moves every pending entry for the recipient, across
	// all channels, to cancelled. Returns the number of entries cancelled.
	CancelAllPending(ctx context.Context, recipientID string) (int64, error)

	ChannelStatus(ctx context.Context, recipientID, channel string) (*domain.ChannelStatus, error)
	// GlobalStatus aggregates counts across every recipient and channel,
	// for the operational snapshot endpoint.
	GlobalStatus(ctx context.Context) (*domain.ChannelStatus, error)
	MaxSequence(ctx context.Context, recipientID, channel string) (int64, error)
}
