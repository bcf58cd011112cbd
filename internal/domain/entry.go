package domain

import "time"

// Status tracks the delivery lifecycle of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is immutable once reached.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// QueueEntry is one message's delivery-tracking record within a
// (recipient, channel) ordered sequence. Ordering is scoped to the pair;
// different channels of the same recipient advance independently.
type QueueEntry struct {
	ID             string     `json:"id"`
	RecipientID    string     `json:"recipient_id"`
	Channel        string     `json:"channel"`
	SequenceNumber int64      `json:"sequence_number"`
	Body           string     `json:"body"`
	MediaURLs      []string   `json:"media_urls,omitempty"`
	Status         Status     `json:"status"`
	DispatchRef    *string    `json:"dispatch_ref,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// StallDeadline is the instant after which an in-flight entry with no
// confirmation is considered stalled. Zero time if never dispatched.
func (e *QueueEntry) StallDeadline() time.Time {
	if e.DispatchedAt == nil {
		return time.Time{}
	}
	return e.DispatchedAt.Add(time.Duration(e.TimeoutMinutes) * time.Minute)
}

// Outcome is the delivery result reported by the transport's callback.
type Outcome string

const (
	OutcomeDelivered   Outcome = "delivered"
	OutcomeFailed      Outcome = "failed"
	OutcomeUndelivered Outcome = "undelivered"
	OutcomeQueued      Outcome = "queued"
	OutcomeSent        Outcome = "sent"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeDelivered, OutcomeFailed, OutcomeUndelivered, OutcomeQueued, OutcomeSent:
		return true
	}
	return false
}

// DrivesTransition reports whether the outcome resolves an in-flight entry.
// queued/sent are provider progress reports and change nothing here.
func (o Outcome) DrivesTransition() bool {
	switch o {
	case OutcomeDelivered, OutcomeFailed, OutcomeUndelivered:
		return true
	}
	return false
}

// MessagePayload is one message in an enqueue request. Sequence is optional;
// when any payload carries one, all must, and they must be strictly ascending.
type MessagePayload struct {
	Body      string   `json:"body"`
	MediaURLs []string `json:"media_urls,omitempty"`
	Sequence  *int64   `json:"sequence,omitempty"`
}

// EnqueueRequest is the inbound producer payload: an ordered batch of
// messages for one (recipient, channel) pair.
type EnqueueRequest struct {
	Messages []MessagePayload `json:"messages"`
}

const maxBodyLen = 1600 // concatenated-SMS ceiling most gateways accept

func (r *EnqueueRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyBatch
	}
	if len(r.Messages) > 1000 {
		return ErrBatchTooLarge
	}

	explicit := r.Messages[0].Sequence != nil
	var prev int64
	for i, m := range r.Messages {
		if m.Body == "" || len(m.Body) > maxBodyLen {
			return ErrInvalidBody
		}
		if (m.Sequence != nil) != explicit {
			return ErrSequenceNotAscending
		}
		if explicit {
			if i > 0 && *m.Sequence <= prev {
				return ErrSequenceNotAscending
			}
			prev = *m.Sequence
		}
	}
	return nil
}

// ValidateKey checks the (recipient, channel) pair taken from the URL path.
func ValidateKey(recipientID, channel string) error {
	if recipientID == "" {
		return ErrInvalidRecipient
	}
	if channel == "" || len(channel) > 64 {
		return ErrInvalidChannel
	}
	return nil
}

// ChannelStatus is the read-only per-(recipient, channel) summary served by
// the status endpoint.
type ChannelStatus struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// TransitionFields carries the columns a CAS transition may set alongside the
// status change. Nil fields are left untouched.
type TransitionFields struct {
	DispatchRef  *string
	RetryCount   *int
	LastError    *string
	DispatchedAt *time.Time
	ResolvedAt   *time.Time
}
