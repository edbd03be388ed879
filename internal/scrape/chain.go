package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries fetchers in priority order and returns the first success.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain.
func NewChain(fetchers ...Fetcher) *Chain {
	return &Chain{fetchers: fetchers}
}

// Name implements Fetcher.
func (c *Chain) Name() string { return "chain" }

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	if len(c.fetchers) == 0 {
		return nil, eris.New("scrape: no fetchers configured")
	}
	var lastErr error
	for _, f := range c.fetchers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "scrape: chain cancelled")
		}
		res, err := f.Fetch(ctx, targetURL)
		if err == nil {
			return res, nil
		}
		zap.L().Debug("scrape: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, eris.Wrapf(lastErr, "scrape: all fetchers failed for %s", targetURL)
}
