package scrape

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/school-intel/internal/model"
)

// FetchStats summarizes one school's fetch.
type FetchStats struct {
	Pages  int
	Failed int
	Tokens int
}

// FetchSchool fetches every source URL of a school concurrently, at most
// concurrency at a time. A failed URL yields a Page with Err wrapping
// model.ErrFetch; it never aborts the other URLs. Pages come back in source
// URL order.
func FetchSchool(ctx context.Context, f Fetcher, school model.School, concurrency int) ([]model.Page, FetchStats) {
	if concurrency <= 0 {
		concurrency = 4
	}
	pages := make([]model.Page, len(school.SourceURLs))

	var mu sync.Mutex
	var stats FetchStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range school.SourceURLs {
		g.Go(func() error {
			res, err := f.Fetch(gctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				pages[i] = model.Page{URL: u, Err: eris.Wrapf(model.ErrFetch, "%s: %v", u, err)}
				stats.Failed++
				zap.L().Warn("scrape: page fetch failed",
					zap.String("school_id", school.ID),
					zap.String("url", u),
					zap.Error(err),
				)
				return nil
			}
			pages[i] = model.Page{URL: u, Content: res.Content, ContentType: res.ContentType}
			stats.Pages++
			stats.Tokens += res.Tokens
			return nil
		})
	}
	_ = g.Wait()

	return pages, stats
}

// SchoolFetcher binds a Fetcher and a per-school URL concurrency.
type SchoolFetcher struct {
	fetcher     Fetcher
	concurrency int
}

// NewSchoolFetcher creates a SchoolFetcher.
func NewSchoolFetcher(f Fetcher, concurrency int) *SchoolFetcher {
	return &SchoolFetcher{fetcher: f, concurrency: concurrency}
}

// Fetch runs FetchSchool for one school.
func (s *SchoolFetcher) Fetch(ctx context.Context, school model.School) ([]model.Page, FetchStats) {
	return FetchSchool(ctx, s.fetcher, school, s.concurrency)
}
