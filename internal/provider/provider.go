package provider

import (
	"context"
	"fmt"

	"github.com/relaycore/smsqueue/internal/domain"
)

// SendRequest is the JSON body posted to the SMS gateway.
type SendRequest struct {
	To        string   `json:"to"`
	Body      string   `json:"body"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// SendResponse maps the gateway's 202 Accepted response body. MessageRef is
// the correlation handle later delivery callbacks carry.
type SendResponse struct {
	MessageRef string `json:"messageRef"`
	Status     string `json:"status"`
}

// SendError is a synchronous rejection from the gateway: the message was
// never accepted for delivery. Code is the gateway's error code and feeds
// the permanent-vs-transient classifier; network-level failures surface as
// ordinary wrapped errors and are always treated as transient.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gateway rejected send (code %s): %s", e.Code, e.Message)
}

// Provider abstracts the SMS transport. Send is synchronous accept/reject
// only; delivery confirmation arrives later through the callback webhook.
// The transport offers no cancel operation.
// Mocking this interface in tests gives full control over gateway behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, e *domain.QueueEntry) (*SendResponse, error)
}
