// Package scrape fetches the raw pages listed for a school. Fetchers are
// composable: a local HTTP fetcher, a Jina reader fallback, a chain that
// tries them in order and an LRU cache in front.
package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Result is one fetched page plus the fetcher that produced it.
type Result struct {
	URL         string
	Content     string
	ContentType string
	StatusCode  int
	Source      string
	// Tokens is the reader token count for metered fetchers (0 otherwise).
	Tokens int
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string) (*Result, error)
	Name() string
}

func hostOf(targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", eris.Wrapf(err, "scrape: parse url %q", targetURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("scrape: unsupported scheme %q in %s", u.Scheme, targetURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
