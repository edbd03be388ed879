package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/normalize"
	"github.com/sells-group/school-intel/internal/scrape"
	"github.com/sells-group/school-intel/internal/store"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

type pageFunc func(ctx context.Context, school model.School) ([]model.Page, scrape.FetchStats)

func (f pageFunc) Fetch(ctx context.Context, school model.School) ([]model.Page, scrape.FetchStats) {
	return f(ctx, school)
}

func staticPages(ctx context.Context, school model.School) ([]model.Page, scrape.FetchStats) {
	pages := make([]model.Page, 0, len(school.SourceURLs))
	for _, u := range school.SourceURLs {
		pages = append(pages, model.Page{URL: u, Content: "Tuition for " + school.Name, ContentType: "text/plain"})
	}
	return pages, scrape.FetchStats{Pages: len(pages)}
}

type stubExtractor struct {
	extract func(ctx context.Context, school model.School, doc *model.Document) *model.ExtractionResult
}

func (s stubExtractor) Model() string { return "claude-haiku-4-5-20251001" }

func (s stubExtractor) Extract(ctx context.Context, school model.School, doc *model.Document) (*model.ExtractionResult, anthropic.TokenUsage) {
	if doc.Empty() {
		res := model.NewFailedResult(model.DefaultSchema(), school.ID, 0, time.Now(), "empty document")
		res.EmptyDocument = true
		return res, anthropic.TokenUsage{}
	}
	return s.extract(ctx, school, doc), anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 100}
}

func validResult(school model.School) *model.ExtractionResult {
	rec := model.NewAbsentRecord(model.DefaultSchema())
	rec[model.CategoryTuition]["academic_year"] = model.Scalar("2024-2025")
	return &model.ExtractionResult{
		SchoolID:     school.ID,
		ExtractedAt:  time.Now(),
		AttemptCount: 1,
		Status:       model.StatusValid,
		Record:       rec,
	}
}

func schoolsN(n int) []model.School {
	out := make([]model.School, n)
	for i := range out {
		id := string(rune('a' + i))
		out[i] = model.School{ID: id, Name: "School " + id, SourceURLs: []string{"https://" + id + ".edu.ph/"}}
	}
	return out
}

func TestRunExtraction_CancelStopsNewSchools(t *testing.T) {
	t.Parallel()

	started := make(chan string, 5)
	release := make(chan struct{})
	var calls atomic.Int32

	ext := stubExtractor{extract: func(ctx context.Context, school model.School, _ *model.Document) *model.ExtractionResult {
		calls.Add(1)
		started <- school.ID
		<-release
		// In-flight schools run detached from the caller's cancellation.
		if ctx.Err() != nil {
			return model.NewFailedResult(model.DefaultSchema(), school.ID, 1, time.Now(), "cancelled")
		}
		return validResult(school)
	}}

	mem := store.NewMemory()
	o := NewOrchestrator(pageFunc(staticPages), normalize.New(), ext, mem, WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		report *RunReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := o.RunExtraction(ctx, schoolsN(5))
		done <- result{r, err}
	}()

	first := <-started
	second := <-started
	cancel()
	close(release)

	var got result
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	require.ErrorIs(t, got.err, context.Canceled)
	require.NotNil(t, got.report)
	assert.True(t, got.report.Cancelled)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, got.report.Started())
	assert.Equal(t, 3, got.report.Count(OutcomeSkipped))
	assert.Equal(t, 2, got.report.Count(OutcomeValid))

	for _, id := range []string{first, second} {
		res, err := mem.GetLatest(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, model.StatusValid, res.Status)
	}
	for _, s := range got.report.Schools {
		if s.Outcome != OutcomeSkipped {
			continue
		}
		_, err := mem.GetLatest(context.Background(), s.SchoolID)
		assert.ErrorIs(t, err, model.ErrSchoolNotFound, s.SchoolID)
	}
}

func TestRunExtraction_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ext := stubExtractor{extract: func(_ context.Context, school model.School, _ *model.Document) *model.ExtractionResult {
		t.Errorf("unexpected extraction of %s", school.ID)
		return validResult(school)
	}}
	o := NewOrchestrator(pageFunc(staticPages), normalize.New(), ext, store.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.RunExtraction(ctx, schoolsN(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Started())
	assert.Equal(t, 3, report.Count(OutcomeSkipped))
}

type failingPuts struct {
	*store.MemoryStore
	failFor string
}

func (f failingPuts) Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error {
	if schoolID == f.failFor {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, schoolID, res)
}

func TestRunExtraction_Outcomes(t *testing.T) {
	t.Parallel()

	schools := []model.School{
		{ID: "ok", Name: "Good School", SourceURLs: []string{"https://ok.edu.ph/"}},
		{ID: "fix", Name: "Repaired School", SourceURLs: []string{"https://fix.edu.ph/"}},
		{ID: "bad", Name: "Failed School", SourceURLs: []string{"https://bad.edu.ph/"}},
		{ID: "blank", Name: "Blank School", SourceURLs: []string{"https://blank.edu.ph/"}},
		{ID: "down", Name: "Down School", SourceURLs: []string{"https://down.edu.ph/", "https://down.edu.ph/fees"}},
		{ID: "lost", Name: "Lost Write", SourceURLs: []string{"https://lost.edu.ph/"}},
	}

	pages := pageFunc(func(ctx context.Context, school model.School) ([]model.Page, scrape.FetchStats) {
		switch school.ID {
		case "blank":
			return []model.Page{{URL: school.SourceURLs[0], Content: "<html><body><nav>Menu</nav></body></html>", ContentType: "text/html"}},
				scrape.FetchStats{Pages: 1}
		case "down":
			var out []model.Page
			for _, u := range school.SourceURLs {
				out = append(out, model.Page{URL: u, Err: model.ErrFetch})
			}
			return out, scrape.FetchStats{Failed: 2}
		}
		p, st := staticPages(ctx, school)
		st.Tokens = 500
		return p, st
	})

	ext := stubExtractor{extract: func(_ context.Context, school model.School, _ *model.Document) *model.ExtractionResult {
		switch school.ID {
		case "fix":
			res := validResult(school)
			res.Status = model.StatusRepaired
			res.AttemptCount = 2
			return res
		case "bad":
			return model.NewFailedResult(model.DefaultSchema(), school.ID, 3, time.Now(), "unparseable output")
		}
		return validResult(school)
	}}

	mem := store.NewMemory()
	o := NewOrchestrator(pages, normalize.New(), ext, failingPuts{MemoryStore: mem, failFor: "lost"}, WithWorkers(3))

	report, err := o.RunExtraction(context.Background(), schools)
	require.NoError(t, err)
	require.Len(t, report.Schools, len(schools))

	want := map[string]Outcome{
		"ok":    OutcomeValid,
		"fix":   OutcomeRepaired,
		"bad":   OutcomeFailed,
		"blank": OutcomeEmpty,
		"down":  OutcomeFetchFailed,
		"lost":  OutcomeFailed,
	}
	for i, s := range report.Schools {
		assert.Equal(t, schools[i].ID, s.SchoolID, "report keeps input order")
		assert.Equal(t, want[s.SchoolID], s.Outcome, s.SchoolID)
	}

	assert.Equal(t, 2, report.Schools[1].Attempts)
	assert.Equal(t, 2, report.Schools[4].PagesFailed)
	assert.Contains(t, report.Schools[5].Error, "disk full")
	assert.False(t, report.Cancelled)
	assert.Equal(t, 0, report.Count(OutcomeSkipped))

	// Four schools reached the model; blank and down did not.
	assert.Equal(t, int64(4000), report.Usage.InputTokens)
	assert.Greater(t, report.Cost, 0.0)

	// Failures and empty documents are still recorded.
	for _, id := range []string{"bad", "blank", "down"} {
		res, err := mem.GetLatest(context.Background(), id)
		assert.ErrorIs(t, err, model.ErrNoSuccessfulExtraction, id)
		require.NotNil(t, res, id)
	}
	blank, _ := mem.GetLatest(context.Background(), "blank")
	assert.True(t, blank.EmptyDocument)

	ids, err := mem.ListSchools(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, len(schools))
}

func TestRunExtraction_RespectsWorkerLimit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	ext := stubExtractor{extract: func(_ context.Context, school model.School, _ *model.Document) *model.ExtractionResult {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return validResult(school)
	}}

	o := NewOrchestrator(pageFunc(staticPages), normalize.New(), ext, store.NewMemory(), WithWorkers(2))
	report, err := o.RunExtraction(context.Background(), schoolsN(6))
	require.NoError(t, err)
	assert.Equal(t, 6, report.Count(OutcomeValid))
	assert.LessOrEqual(t, peak, 2)
}

func TestRunExtraction_HookSeesCancelledRun(t *testing.T) {
	t.Parallel()

	var seen []*RunReport
	var hookCtxErr error
	hook := func(ctx context.Context, r *RunReport) {
		hookCtxErr = ctx.Err()
		seen = append(seen, r)
	}
	ext := stubExtractor{extract: func(_ context.Context, school model.School, _ *model.Document) *model.ExtractionResult {
		return validResult(school)
	}}
	o := NewOrchestrator(pageFunc(staticPages), normalize.New(), ext, store.NewMemory(), WithRunHook(hook))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.RunExtraction(ctx, schoolsN(2))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, seen, 1)
	assert.Same(t, report, seen[0])
	assert.True(t, seen[0].Cancelled)
	assert.NoError(t, hookCtxErr)
}
