// Package summarize writes narrative summaries from stored records: one
// section per category for a single school, and batched map-then-reduce
// overviews for a set of schools. A failed model call degrades its own
// section to an "unavailable" marker and never aborts the report.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/resilience"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

const (
	defaultModel       = "claude-sonnet-4-5-20250929"
	defaultMaxTokens   = 2048
	defaultBatchSize   = 10
	defaultConcurrency = 4
)

// Source is the read side of the record store the summarizer needs.
type Source interface {
	GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error)
	GetSchool(ctx context.Context, schoolID string) (*model.School, error)
}

// Summarizer produces SummaryReports.
type Summarizer struct {
	client      anthropic.Client
	source      Source
	schema      *model.Schema
	model       string
	maxTokens   int64
	batchSize   int
	concurrency int
	policy      resilience.Policy
	now         func() time.Time
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithSchema overrides the default schema.
func WithSchema(s *model.Schema) Option { return func(z *Summarizer) { z.schema = s } }

// WithModel sets the model name.
func WithModel(name string) Option {
	return func(z *Summarizer) {
		if name != "" {
			z.model = name
		}
	}
}

// WithMaxTokens sets the per-call response budget.
func WithMaxTokens(n int64) Option {
	return func(z *Summarizer) {
		if n > 0 {
			z.maxTokens = n
		}
	}
}

// WithBatchSize sets how many schools go into one market batch call.
func WithBatchSize(n int) Option {
	return func(z *Summarizer) {
		if n > 0 {
			z.batchSize = n
		}
	}
}

// WithConcurrency bounds parallel model calls within one report.
func WithConcurrency(n int) Option {
	return func(z *Summarizer) {
		if n > 0 {
			z.concurrency = n
		}
	}
}

// WithPolicy sets the retry bound and per-call timeout.
func WithPolicy(p resilience.Policy) Option { return func(z *Summarizer) { z.policy = p } }

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option { return func(z *Summarizer) { z.now = now } }

// New creates a Summarizer.
func New(client anthropic.Client, source Source, opts ...Option) *Summarizer {
	z := &Summarizer{
		client:      client,
		source:      source,
		schema:      model.DefaultSchema(),
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		policy:      resilience.DefaultPolicy(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// UnavailableMarker is the section text of a failed model call.
func UnavailableMarker(what string) string {
	return "[summary unavailable: " + what + "]"
}

// DataUnavailable is the fixed text for a category with no present values.
func DataUnavailable(cat model.Category) string {
	return "Data unavailable for " + cat.Title() + "."
}

// SummarizeSchool summarizes the latest record of one school. Categories
// with no present values get DataUnavailable text without a model call. A
// school whose extractions all failed yields a report of unavailable
// categories; an unknown school is an error.
func (z *Summarizer) SummarizeSchool(ctx context.Context, schoolID string) (*model.SummaryReport, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage
	log := zap.L().With(zap.String("school_id", schoolID))

	res, err := z.source.GetLatest(ctx, schoolID)
	switch {
	case err == nil:
	case eris.Is(err, model.ErrNoSuccessfulExtraction):
		log.Info("summarize: no successful extraction, all categories unavailable")
		res = nil
	default:
		return nil, usage, eris.Wrapf(err, "summarize: read %s", schoolID)
	}
	name := z.schoolName(ctx, schoolID)

	sections := make([]model.SummarySection, len(z.schema.Categories))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(z.concurrency)
	for i := range z.schema.Categories {
		cat := &z.schema.Categories[i]
		title := cat.Key.Title()
		if res == nil || !res.Record.HasData(cat.Key) {
			sections[i] = model.SummarySection{Title: title, Text: DataUnavailable(cat.Key)}
			continue
		}
		rec := res.Record
		g.Go(func() error {
			text, u, err := z.call(gctx, categorySystem, categoryPrompt(name, cat, rec), "summarize_category",
				zap.String("school_id", schoolID), zap.String("category", string(cat.Key)))
			mu.Lock()
			usage.Add(u)
			mu.Unlock()
			if err != nil {
				log.Warn("summarize: category summary unavailable", zap.String("category", string(cat.Key)), zap.Error(err))
				sections[i] = model.SummarySection{Title: title, Text: UnavailableMarker(title), Unavailable: true}
				return nil
			}
			sections[i] = model.SummarySection{Title: title, Text: text}
			return nil
		})
	}
	_ = g.Wait()

	report := &model.SummaryReport{
		ID:         uuid.NewString(),
		Kind:       model.SummarySchool,
		SchoolIDs:  []string{schoolID},
		Categories: z.schema.Keys(),
		Sections:   sections,
		Model:      z.model,
		CreatedAt:  z.now().UTC(),
	}
	report.Text = joinSections("# "+name, sections)
	return report, usage, nil
}

// SummarizeMarket summarizes a set of schools. Schools are split into
// batches of the configured size in the given order; each batch gets one
// model call, then one consolidation call merges the batch sections. A
// failed batch becomes an unavailable marker inside the consolidation
// input; a failed consolidation leaves the report text as a marker while
// keeping the batch sections.
func (z *Summarizer) SummarizeMarket(ctx context.Context, schoolIDs []string) (*model.SummaryReport, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage
	ids := dedupe(schoolIDs)
	if len(ids) == 0 {
		return nil, usage, eris.New("summarize: no schools given")
	}

	entries, err := z.loadEntries(ctx, ids)
	if err != nil {
		return nil, usage, err
	}

	batches := partition(entries, z.batchSize)
	sections := make([]model.SummarySection, len(batches))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(z.concurrency)
	for i, batch := range batches {
		n := i + 1
		title := fmt.Sprintf("Batch %d", n)
		prompt := batchPrompt(z.schema, n, len(batches), batch)
		g.Go(func() error {
			text, u, err := z.call(gctx, batchSystem, prompt, "summarize_batch", zap.Int("batch", n))
			mu.Lock()
			usage.Add(u)
			mu.Unlock()
			if err != nil {
				zap.L().Warn("summarize: batch summary unavailable", zap.Int("batch", n), zap.Error(err))
				sections[i] = model.SummarySection{Title: title, Text: UnavailableMarker(fmt.Sprintf("batch %d", n)), Unavailable: true}
				return nil
			}
			sections[i] = model.SummarySection{Title: title, Text: text}
			return nil
		})
	}
	_ = g.Wait()

	report := &model.SummaryReport{
		ID:         uuid.NewString(),
		Kind:       model.SummaryMarket,
		SchoolIDs:  ids,
		Categories: z.schema.Keys(),
		Sections:   sections,
		Model:      z.model,
	}

	if allUnavailable(sections) {
		zap.L().Warn("summarize: every batch failed, skipping consolidation", zap.Int("batches", len(sections)))
		report.Text = UnavailableMarker("consolidation")
	} else {
		text, u, err := z.call(ctx, consolidationSystem, consolidationPrompt(sections), "summarize_consolidate",
			zap.Int("batches", len(sections)))
		usage.Add(u)
		if err != nil {
			zap.L().Warn("summarize: consolidation unavailable", zap.Error(err))
			report.Text = UnavailableMarker("consolidation")
		} else {
			report.Text = text
		}
	}
	report.CreatedAt = z.now().UTC()
	return report, usage, nil
}

func (z *Summarizer) loadEntries(ctx context.Context, ids []string) ([]schoolEntry, error) {
	entries := make([]schoolEntry, 0, len(ids))
	for _, id := range ids {
		e := schoolEntry{id: id, name: z.schoolName(ctx, id)}
		res, err := z.source.GetLatest(ctx, id)
		switch {
		case err == nil:
			e.record = res.Record
		case eris.Is(err, model.ErrNoSuccessfulExtraction), eris.Is(err, model.ErrSchoolNotFound):
		default:
			return nil, eris.Wrapf(err, "summarize: read %s", id)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (z *Summarizer) schoolName(ctx context.Context, id string) string {
	s, err := z.source.GetSchool(ctx, id)
	if err != nil || s == nil || s.Name == "" {
		return id
	}
	return s.Name
}

// call runs one summarization request under the retry policy. Timeouts and
// empty responses count toward the retry bound.
func (z *Summarizer) call(ctx context.Context, system, prompt, phase string, fields ...zap.Field) (string, anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage
	blocks := anthropic.BuildCachedSystemBlocks(system, "")

	policy := z.policy
	policy.ShouldRetry = func(err error) bool {
		return eris.Is(err, model.ErrSummarization) || anthropic.IsRetryable(err) || resilience.IsTransient(err)
	}
	policy.OnRetry = resilience.RetryLogger("anthropic", phase, fields...)

	text, attempts, err := resilience.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		resp, err := z.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     z.model,
			MaxTokens: z.maxTokens,
			System:    blocks,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return "", eris.Wrapf(err, "summarize: model call attempt %d", attempt)
		}
		usage.Add(resp.Usage)
		resp.Usage.LogCost(z.model, phase, append(fields, zap.Int("attempt", attempt))...)

		text := strings.TrimSpace(anthropic.Text(resp))
		if text == "" {
			return "", eris.Wrap(model.ErrSummarization, "empty response")
		}
		return text, nil
	})
	if err != nil {
		return "", usage, eris.Wrapf(model.ErrSummarization, "%s after %d attempts: %v", phase, attempts, err)
	}
	return text, usage, nil
}

func joinSections(heading string, sections []model.SummarySection) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Title, s.Text)
	}
	return b.String()
}

func partition[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func allUnavailable(sections []model.SummarySection) bool {
	for _, s := range sections {
		if !s.Unavailable {
			return false
		}
	}
	return true
}
