package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycore/smsqueue/internal/domain"
)

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

const entryColumns = `id, recipient_id, channel, sequence_number, body, media_urls,
	status, dispatch_ref, retry_count, max_retries, timeout_minutes,
	last_error, created_at, dispatched_at, resolved_at`

func (r *pgQueueRepository) Create(ctx context.Context, e *domain.QueueEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_entries
			(id, recipient_id, channel, sequence_number, body, media_urls,
			 status, retry_count, max_retries, timeout_minutes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.RecipientID, e.Channel, e.SequenceNumber, e.Body, e.MediaURLs,
		e.Status, e.RetryCount, e.MaxRetries, e.TimeoutMinutes, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSequence
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// CreateMany inserts an ordered batch in a single transaction so a producer
// never observes a partially stored sequence.
func (r *pgQueueRepository) CreateMany(ctx context.Context, entries []*domain.QueueEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range entries {
		_, err = tx.Exec(ctx, `
			INSERT INTO queue_entries
				(id, recipient_id, channel, sequence_number, body, media_urls,
				 status, retry_count, max_retries, timeout_minutes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.RecipientID, e.Channel, e.SequenceNumber, e.Body, e.MediaURLs,
			e.Status, e.RetryCount, e.MaxRetries, e.TimeoutMinutes, e.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateSequence
			}
			return fmt.Errorf("insert queue entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *pgQueueRepository) NextPending(ctx context.Context, recipientID, channel string) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE recipient_id = $1 AND channel = $2 AND status = 'pending'
		ORDER BY sequence_number ASC
		LIMIT 1`, recipientID, channel)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *pgQueueRepository) InFlight(ctx context.Context, recipientID, channel string) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE recipient_id = $1 AND channel = $2 AND status = 'in_flight'
		LIMIT 1`, recipientID, channel)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *pgQueueRepository) ByDispatchRef(ctx context.Context, ref string) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE dispatch_ref = $1`, ref)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *pgQueueRepository) FindStalled(ctx context.Context, now time.Time) ([]*domain.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE status = 'in_flight'
		  AND dispatched_at + make_interval(mins => timeout_minutes) <= $1
		ORDER BY dispatched_at ASC
		LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find stalled: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Transition is the compare-and-swap every mutation path goes through.
// The WHERE clause on the expected status makes the update atomic at the
// store level; a rows-affected count of zero means another caller resolved
// the entry first.
func (r *pgQueueRepository) Transition(ctx context.Context, id string, from, to domain.Status, f domain.TransitionFields) (bool, error) {
	sets := []string{}
	args := []any{}
	set := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	set("status", to)
	if f.DispatchRef != nil {
		set("dispatch_ref", *f.DispatchRef)
	}
	if f.RetryCount != nil {
		set("retry_count", *f.RetryCount)
	}
	if f.LastError != nil {
		set("last_error", *f.LastError)
	}
	if f.DispatchedAt != nil {
		set("dispatched_at", *f.DispatchedAt)
	}
	if f.ResolvedAt != nil {
		set("resolved_at", *f.ResolvedAt)
	}

	args = append(args, id, from)
	query := fmt.Sprintf(
		"UPDATE queue_entries SET %s WHERE id = $%d AND status = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgQueueRepository) CancelAllPending(ctx context.Context, recipientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_entries
		SET status = 'cancelled', resolved_at = NOW()
		WHERE recipient_id = $1 AND status = 'pending'`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("cancel all pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgQueueRepository) ChannelStatus(ctx context.Context, recipientID, channel string) (*domain.ChannelStatus, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'in_flight'),
		       COUNT(*) FILTER (WHERE status = 'delivered'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM queue_entries
		WHERE recipient_id = $1 AND channel = $2`, recipientID, channel)

	var s domain.ChannelStatus
	err := row.Scan(&s.Total, &s.Pending, &s.InFlight, &s.Delivered, &s.Failed, &s.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("channel status: %w", err)
	}
	return &s, nil
}

func (r *pgQueueRepository) GlobalStatus(ctx context.Context) (*domain.ChannelStatus, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'in_flight'),
		       COUNT(*) FILTER (WHERE status = 'delivered'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM queue_entries`)

	var s domain.ChannelStatus
	err := row.Scan(&s.Total, &s.Pending, &s.InFlight, &s.Delivered, &s.Failed, &s.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("global status: %w", err)
	}
	return &s, nil
}

func (r *pgQueueRepository) MaxSequence(ctx context.Context, recipientID, channel string) (int64, error) {
	var max int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM queue_entries
		WHERE recipient_id = $1 AND channel = $2`, recipientID, channel).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return max, nil
}

// ---- helpers ----

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// scanEntry reads a single entry row from any pgx row type.
func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := row.Scan(
		&e.ID, &e.RecipientID, &e.Channel, &e.SequenceNumber, &e.Body, &e.MediaURLs,
		&e.Status, &e.DispatchRef, &e.RetryCount, &e.MaxRetries, &e.TimeoutMinutes,
		&e.LastError, &e.CreatedAt, &e.DispatchedAt, &e.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.QueueEntry, error) {
	var result []*domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
