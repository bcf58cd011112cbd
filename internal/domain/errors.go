package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateSequence    = errors.New("sequence number already exists for recipient and channel")
	ErrSequenceNotAscending = errors.New("explicit sequence numbers must be supplied for every message and strictly ascending")
	ErrInvalidRecipient     = errors.New("recipient must not be empty")
	ErrInvalidChannel       = errors.New("channel must be 1-64 characters")
	ErrInvalidBody          = errors.New("message body must be between 1 and 1600 characters")
	ErrEmptyBatch           = errors.New("batch must contain at least one message")
	ErrBatchTooLarge        = errors.New("batch exceeds maximum of 1000 messages")
	ErrBadSignature         = errors.New("webhook signature verification failed")
	ErrInvalidOutcome       = errors.New("unknown delivery outcome")
)
