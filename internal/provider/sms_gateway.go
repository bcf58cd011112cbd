package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaycore/smsqueue/internal/domain"
)

// SMSGateway delivers messages by POSTing to an external SMS provider.
// The base URL is injected from config so tests can point to a local mock.
type SMSGateway struct {
	baseURL    string
	httpClient *http.Client
}

func NewSMSGateway(baseURL string, timeout time.Duration) *SMSGateway {
	return &SMSGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// errorResponse maps the gateway's rejection body.
type errorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Send posts the message to the gateway and expects a 202 Accepted response
// containing the message ref. A 4xx response is decoded into a SendError so
// the caller can classify it; 5xx and transport-level failures come back as
// plain errors.
func (g *SMSGateway) Send(ctx context.Context, e *domain.QueueEntry) (*SendResponse, error) {
	body, err := json.Marshal(SendRequest{
		To:        e.RecipientID,
		Body:      e.Body,
		MediaURLs: e.MediaURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		var sendResp SendResponse
		if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if sendResp.MessageRef == "" {
			return nil, fmt.Errorf("gateway accepted without a message ref")
		}
		return &sendResp, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rejection errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil {
			rejection.ErrorMessage = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &SendError{Code: rejection.ErrorCode, Message: rejection.ErrorMessage}

	default:
		return nil, fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}
}

// compile-time check that SMSGateway implements Provider
var _ Provider = (*SMSGateway)(nil)
