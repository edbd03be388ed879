// Package pipeline runs the per-school fetch, normalize, extract and record
// sequence over a batch of schools with a bounded worker pool, and exposes
// the operations the CLI and HTTP API call.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/school-intel/internal/cost"
	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/scrape"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

// PageSource fetches the raw pages of one school.
type PageSource interface {
	Fetch(ctx context.Context, school model.School) ([]model.Page, scrape.FetchStats)
}

// Normalizer turns fetched pages into one document.
type Normalizer interface {
	Normalize(ctx context.Context, schoolID string, sourceURLs []string, pages []model.Page) *model.Document
}

// Extractor maps a document onto the category schema.
type Extractor interface {
	Extract(ctx context.Context, school model.School, doc *model.Document) (*model.ExtractionResult, anthropic.TokenUsage)
	Model() string
}

// Recorder is the write side of the record store.
type Recorder interface {
	RegisterSchool(ctx context.Context, school model.School) error
	Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error
}

// Orchestrator runs extraction batches.
type Orchestrator struct {
	pages      PageSource
	normalizer Normalizer
	extractor  Extractor
	store      Recorder
	costs      *cost.Calculator
	workers    int
	now        func() time.Time
	hooks      []RunHook
}

// RunHook observes every finished run, cancelled ones included.
type RunHook func(ctx context.Context, r *RunReport)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds how many schools run at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithCalculator sets the cost calculator used for run reports.
func WithCalculator(c *cost.Calculator) Option { return func(o *Orchestrator) { o.costs = c } }

// WithRunHook registers h to be called after each run.
func WithRunHook(h RunHook) Option { return func(o *Orchestrator) { o.hooks = append(o.hooks, h) } }

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(pages PageSource, normalizer Normalizer, extractor Extractor, store Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pages:      pages,
		normalizer: normalizer,
		extractor:  extractor,
		store:      store,
		costs:      cost.NewCalculator(cost.DefaultRates()),
		workers:    4,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunExtraction processes schools with at most the configured number in
// flight. Schools never block each other: one school's failure is recorded
// in its outcome and the batch continues. Cancelling ctx stops new schools
// from starting; schools already started finish and are recorded, and the
// rest are reported as skipped. The returned error is non-nil only when
// the batch was cancelled.
func (o *Orchestrator) RunExtraction(ctx context.Context, schools []model.School) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.NewString(),
		StartedAt: o.now().UTC(),
		Model:     o.extractor.Model(),
		Schools:   make([]SchoolOutcome, len(schools)),
	}
	for i, s := range schools {
		report.Schools[i] = SchoolOutcome{SchoolID: s.ID, Name: s.Name, Outcome: OutcomeSkipped}
	}
	log := zap.L().With(zap.String("run_id", report.ID))
	log.Info("pipeline: starting extraction run", zap.Int("schools", len(schools)), zap.Int("workers", o.workers))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, school := range schools {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up after cancellation; do not start then.
			if ctx.Err() != nil {
				return nil
			}
			out := o.runSchool(context.WithoutCancel(ctx), school)
			mu.Lock()
			report.Schools[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.now().UTC()
	for _, s := range report.Schools {
		report.Usage.Add(s.Usage)
		report.JinaTokens += s.JinaTokens
		report.Cost += s.Cost
	}

	err := ctx.Err()
	report.Cancelled = err != nil
	for _, h := range o.hooks {
		h(context.WithoutCancel(ctx), report)
	}

	if err != nil {
		log.Warn("pipeline: run cancelled",
			zap.Int("started", report.Started()),
			zap.Int("skipped", report.Count(OutcomeSkipped)),
		)
		return report, err
	}
	log.Info("pipeline: run complete",
		zap.Int("valid", report.Count(OutcomeValid)),
		zap.Int("repaired", report.Count(OutcomeRepaired)),
		zap.Int("failed", report.Count(OutcomeFailed)+report.Count(OutcomeEmpty)+report.Count(OutcomeFetchFailed)),
		zap.Float64("cost_usd", report.Cost),
	)
	return report, nil
}

// runSchool is one school's fetch, normalize, extract and record sequence.
func (o *Orchestrator) runSchool(ctx context.Context, school model.School) SchoolOutcome {
	start := time.Now()
	log := zap.L().With(zap.String("school_id", school.ID))
	out := SchoolOutcome{SchoolID: school.ID, Name: school.Name}

	if err := o.store.RegisterSchool(ctx, school); err != nil {
		log.Warn("pipeline: register school failed", zap.Error(err))
	}

	pages, stats := o.pages.Fetch(ctx, school)
	out.Pages, out.PagesFailed, out.JinaTokens = stats.Pages, stats.Failed, stats.Tokens

	doc := o.normalizer.Normalize(ctx, school.ID, school.SourceURLs, pages)
	res, usage := o.extractor.Extract(ctx, school, doc)
	out.Usage = usage
	out.Attempts = res.AttemptCount
	out.Cost = o.costs.Claude(o.extractor.Model(), usage) + o.costs.Jina(stats.Tokens)

	switch {
	case res.EmptyDocument && stats.Failed > 0 && stats.Pages == 0:
		out.Outcome = OutcomeFetchFailed
	case res.EmptyDocument:
		out.Outcome = OutcomeEmpty
	default:
		out.Outcome = Outcome(res.Status)
	}
	out.Error = res.Error

	if err := o.store.Put(ctx, school.ID, res); err != nil {
		log.Error("pipeline: record result failed", zap.Error(err))
		out.Outcome = OutcomeFailed
		out.Error = eris.Wrap(err, "pipeline: record result").Error()
	}
	out.Duration = time.Since(start)

	log.Info("pipeline: school complete",
		zap.String("outcome", string(out.Outcome)),
		zap.Int("attempts", out.Attempts),
		zap.Int("pages", out.Pages),
		zap.Int("pages_failed", out.PagesFailed),
		zap.Duration("duration", out.Duration),
	)
	return out
}
