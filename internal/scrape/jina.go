package scrape

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/resilience"
	"github.com/sells-group/school-intel/pkg/jina"
)

// minJinaContent is the shortest reader output accepted as a real page.
const minJinaContent = 100

// JinaFetcher fetches pages through the Jina reader API, which renders
// JavaScript-heavy sites that the local fetcher cannot read.
type JinaFetcher struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewJinaFetcher creates a JinaFetcher.
func NewJinaFetcher(client jina.Client) *JinaFetcher {
	return &JinaFetcher{
		client:  client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "jina", FailureThreshold: 5}),
	}
}

// Name implements Fetcher.
func (f *JinaFetcher) Name() string { return "jina" }

// Fetch implements Fetcher.
func (f *JinaFetcher) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	if _, err := hostOf(targetURL); err != nil {
		return nil, err
	}
	resp, err := resilience.Execute(ctx, f.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		r, err := f.client.Read(ctx, targetURL)
		var se *jina.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			return nil, resilience.NewTransientError(err, se.StatusCode)
		}
		return r, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: jina read %s", targetURL)
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minJinaContent {
		return nil, eris.Errorf("scrape: jina returned too little content for %s (%d bytes)", targetURL, len(content))
	}
	if resp.Data.Title != "" && !strings.HasPrefix(content, "#") {
		content = "# " + resp.Data.Title + "\n\n" + content
	}

	return &Result{
		URL:         targetURL,
		Content:     content,
		ContentType: "text/markdown",
		StatusCode:  200,
		Source:      f.Name(),
		Tokens:      resp.Data.Usage.Tokens,
	}, nil
}
