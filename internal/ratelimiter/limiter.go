package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// GatewayLimiter paces outbound sends to the SMS gateway with a token
// bucket. Burst is set equal to the rate so no extra burst capacity is
// allowed beyond the configured per-second maximum.
type GatewayLimiter struct {
	limiter *rate.Limiter
}

// New creates a GatewayLimiter with ratePerSec tokens per second.
func New(ratePerSec int) *GatewayLimiter {
	return &GatewayLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// Wait blocks until the limiter grants a token.
// Called by the dispatcher immediately before sending to the gateway.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (g *GatewayLimiter) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
