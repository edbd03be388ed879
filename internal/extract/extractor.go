// Package extract maps a normalized school document onto the fixed category
// schema with one structured-output model call per school, then validates
// and repairs the response. Malformed output is retried up to a bound; a
// school whose extraction never parses gets a failed, all-absent record.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/resilience"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 8192
)

// Extractor runs schema-guided extraction against the model service.
type Extractor struct {
	client      anthropic.Client
	schema      *model.Schema
	model       string
	maxTokens   int64
	temperature *float64
	policy      resilience.Policy
	now         func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSchema overrides the default category schema.
func WithSchema(s *model.Schema) Option { return func(e *Extractor) { e.schema = s } }

// WithModel sets the model name.
func WithModel(name string) Option {
	return func(e *Extractor) {
		if name != "" {
			e.model = name
		}
	}
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(e *Extractor) { e.temperature = &t } }

// WithPolicy sets the retry bound and per-call timeout.
func WithPolicy(p resilience.Policy) Option { return func(e *Extractor) { e.policy = p } }

// WithClock overrides time.Now for extracted_at stamps.
func WithClock(now func() time.Time) Option { return func(e *Extractor) { e.now = now } }

// New creates an Extractor.
func New(client anthropic.Client, opts ...Option) *Extractor {
	e := &Extractor{
		client:    client,
		schema:    model.DefaultSchema(),
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		policy:    resilience.DefaultPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the schema the extractor validates against.
func (e *Extractor) Schema() *model.Schema { return e.schema }

// Model returns the configured model name.
func (e *Extractor) Model() string { return e.model }

type parsed struct {
	obj     *object
	lenient bool
}

// Extract produces an ExtractionResult for one school. It never returns an
// error: parse failures, timeouts and model errors degrade to a failed
// result once the retry bound is spent, and an empty document yields a
// failed result flagged EmptyDocument without calling the model.
func (e *Extractor) Extract(ctx context.Context, school model.School, doc *model.Document) (*model.ExtractionResult, anthropic.TokenUsage) {
	var usage anthropic.TokenUsage
	log := zap.L().With(zap.String("school_id", school.ID))

	if doc == nil || doc.Empty() {
		log.Info("extract: empty document, skipping model call")
		res := model.NewFailedResult(e.schema, school.ID, 0, e.now().UTC(), model.ErrEmptyDocument.Error())
		res.EmptyDocument = true
		res.Model = e.model
		return res, usage
	}

	system := anthropic.BuildCachedSystemBlocks(systemPrompt(e.schema), "")
	lastReason := ""

	policy := e.policy
	policy.ShouldRetry = shouldRetry
	policy.OnRetry = resilience.RetryLogger("anthropic", "extract", zap.String("school_id", school.ID))

	out, attempts, err := resilience.Do(ctx, policy, func(ctx context.Context, attempt int) (*parsed, error) {
		req := anthropic.MessageRequest{
			Model:       e.model,
			MaxTokens:   e.maxTokens,
			System:      system,
			Temperature: e.temperature,
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: userPrompt(e.schema, doc, school.Name, attempt, lastReason),
			}},
		}

		resp, err := e.client.CreateMessage(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				lastReason = "the call timed out"
			} else {
				lastReason = "the model call failed"
			}
			return nil, eris.Wrapf(err, "extract: model call attempt %d", attempt)
		}
		usage.Add(resp.Usage)
		resp.Usage.LogCost(e.model, "extract", zap.String("school_id", school.ID), zap.Int("attempt", attempt))

		obj, lenient, err := parseResponse(anthropic.Text(resp))
		if err != nil {
			lastReason = "it was not a valid JSON object"
			if resp.StopReason == "max_tokens" {
				lastReason = "it was cut off at the token limit; keep values short"
			}
			log.Warn("extract: unparseable response",
				zap.Int("attempt", attempt),
				zap.String("stop_reason", resp.StopReason),
				zap.Error(err),
			)
			return nil, err
		}
		return &parsed{obj: obj, lenient: lenient}, nil
	})

	at := e.now().UTC()
	if err != nil {
		reason := classify(err, attempts)
		log.Warn("extract: extraction failed", zap.Int("attempts", attempts), zap.Error(reason))
		res := model.NewFailedResult(e.schema, school.ID, attempts, at, reason.Error())
		res.Model = e.model
		return res, usage
	}

	v := validate(e.schema, out.obj)
	status := model.StatusValid
	if out.lenient || v.repaired {
		status = model.StatusRepaired
	}
	log.Info("extract: extraction complete",
		zap.String("status", string(status)),
		zap.Int("attempts", attempts),
		zap.Int("issues", len(v.issues)),
	)
	return &model.ExtractionResult{
		SchoolID:     school.ID,
		ExtractedAt:  at,
		AttemptCount: attempts,
		Status:       status,
		Record:       v.record,
		Issues:       v.issues,
		Model:        e.model,
	}, usage
}

func shouldRetry(err error) bool {
	return eris.Is(err, model.ErrExtractionParse) ||
		anthropic.IsRetryable(err) ||
		resilience.IsTransient(err)
}

// classify maps the final attempt error onto the failure taxonomy.
func classify(err error, attempts int) error {
	switch {
	case eris.Is(err, resilience.ErrAttemptTimeout):
		return eris.Wrapf(model.ErrExtractionTimeout, "after %d attempts", attempts)
	case eris.Is(err, model.ErrExtractionParse):
		return eris.Wrapf(model.ErrExtractionParse, "after %d attempts", attempts)
	case eris.Is(err, context.Canceled):
		return eris.Wrap(err, "extract: cancelled")
	default:
		return eris.Wrapf(err, "extract: model call failed after %d attempts", attempts)
	}
}
