package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit wraps c so every call first waits on limiter. A nil
// limiter returns c unchanged.
func WithRateLimit(c Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return c
	}
	return &limitedClient{next: c, limiter: limiter}
}

func (l *limitedClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limit wait")
	}
	return l.next.CreateMessage(ctx, req)
}
