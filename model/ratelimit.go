package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimitedModel struct {
	next    Model
	limiter *rate.Limiter
}

// NewRateLimitedModel wraps next so every Generate call first waits for a
// token from limiter. Waiting honours ctx cancellation.
func NewRateLimitedModel(next Model, limiter *rate.Limiter) Model {
	if limiter == nil {
		return next
	}

	return &rateLimitedModel{next: next, limiter: limiter}
}

// NewRateLimiter returns a limiter allowing rps calls per second with the
// given burst.
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (m *rateLimitedModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	return m.next.Generate(ctx, req)
}

func (m *rateLimitedModel) Info() Info { return m.next.Info() }
