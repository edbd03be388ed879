package scrape

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/sells-group/school-intel/internal/resilience"
)

const (
	maxHTMLBytes = 4 << 20
	maxPDFBytes  = 16 << 20

	defaultUserAgent = "Mozilla/5.0 (compatible; school-intel/1.0)"
)

// LocalFetcher fetches pages directly over HTTP with per-host rate limits
// and circuit breakers.
type LocalFetcher struct {
	client    *http.Client
	userAgent string
	perHost   rate.Limit
	breakers  *resilience.HostBreakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// LocalOption configures a LocalFetcher.
type LocalOption func(*LocalFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) LocalOption {
	return func(f *LocalFetcher) { f.client = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(f *LocalFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithHostRate limits requests per host per second. Zero disables limiting.
func WithHostRate(perSec float64) LocalOption {
	return func(f *LocalFetcher) {
		if perSec > 0 {
			f.perHost = rate.Limit(perSec)
		} else {
			f.perHost = rate.Inf
		}
	}
}

// WithBreakers shares a breaker registry across fetchers.
func WithBreakers(b *resilience.HostBreakers) LocalOption {
	return func(f *LocalFetcher) { f.breakers = b }
}

// NewLocalFetcher creates a LocalFetcher.
func NewLocalFetcher(timeout time.Duration, opts ...LocalOption) *LocalFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &LocalFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		perHost:   rate.Limit(1),
		breakers:  resilience.NewHostBreakers(resilience.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute}),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Fetcher.
func (f *LocalFetcher) Name() string { return "local" }

// Fetch implements Fetcher.
func (f *LocalFetcher) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	host, err := hostOf(targetURL)
	if err != nil {
		return nil, err
	}
	if err := f.limiter(host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limit wait")
	}
	return resilience.Execute(ctx, f.breakers.Get(host), func(ctx context.Context) (*Result, error) {
		return f.do(ctx, targetURL)
	})
}

func (f *LocalFetcher) do(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: get %s", targetURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	contentType := resp.Header.Get("Content-Type")
	limit := int64(maxHTMLBytes)
	if strings.Contains(contentType, "pdf") {
		limit = maxPDFBytes
	}

	body, err := readBody(resp, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: read %s", targetURL)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		zap.L().Debug("scrape: blocked response",
			zap.String("url", targetURL),
			zap.String("block_type", string(kind)),
			zap.Int("status", resp.StatusCode),
		)
		return nil, eris.Errorf("scrape: %s blocked (%s)", targetURL, kind)
	}

	if resp.StatusCode >= 400 {
		statusErr := eris.Errorf("scrape: %s returned status %d", targetURL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	content := string(body)
	if !strings.Contains(contentType, "pdf") && !bytes.HasPrefix(body, []byte("%PDF-")) {
		content, err = decodeCharset(body, contentType)
		if err != nil {
			return nil, eris.Wrapf(err, "scrape: decode %s", targetURL)
		}
	}

	return &Result{
		URL:         targetURL,
		Content:     content,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		Source:      f.Name(),
	}, nil
}

func (f *LocalFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.perHost, 1)
		f.limiters[host] = l
	}
	return l
}

// readBody reads at most limit bytes, undoing any content encoding the
// server applied.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "gzip reader")
		}
		defer gz.Close() //nolint:errcheck
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, limit))
}

// decodeCharset converts body to UTF-8 using the Content-Type charset, a
// <meta> declaration or content sniffing, in that order.
func decodeCharset(body []byte, contentType string) (string, error) {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if cs := strings.ToLower(params["charset"]); cs == "utf-8" || cs == "utf8" {
			return string(body), nil
		}
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
