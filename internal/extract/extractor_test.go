package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/resilience"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

var testSchool = model.School{ID: "st-jude", Name: "St. Jude Catholic School"}

func testDoc() *model.Document {
	return &model.Document{SchoolID: testSchool.ID, Text: "[SOURCE: https://stjude.edu.ph]\nTuition for Grade 1 is PHP 85,000."}
}

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
}

func tickingClock() func() time.Time {
	t := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func TestExtract_ValidResponse(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	m := &mockClient{}
	m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "test-model" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			strings.Contains(req.System[0].Text, "grade_level_costs") &&
			strings.Contains(req.Messages[0].Content, "PHP 85,000") &&
			req.Temperature != nil && *req.Temperature == 0
	})).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: fullResponse(s)}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 300},
	}, nil).Once()

	e := New(m, WithModel("test-model"), WithTemperature(0), WithPolicy(fastPolicy(3)))
	res, usage := e.Extract(context.Background(), testSchool, testDoc())

	m.AssertExpectations(t)
	assert.Equal(t, model.StatusValid, res.Status)
	assert.Equal(t, 1, res.AttemptCount)
	assert.Equal(t, "st-jude", res.SchoolID)
	assert.Equal(t, "test-model", res.Model)
	assert.Empty(t, res.Record.Missing(s))
	assert.Equal(t, int64(1200), usage.InputTokens)
}

func TestExtract_SchemaCompletenessWithMissingCategories(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	client := &scriptedClient{replies: []string{fullResponse(s, model.CategoryEvents, model.CategoryTechnology, model.CategoryMarketing)}}
	res, _ := New(client, WithPolicy(fastPolicy(3))).Extract(context.Background(), testSchool, testDoc())

	assert.Equal(t, model.StatusRepaired, res.Status)
	require.Len(t, res.Record, 12)
	assert.Empty(t, res.Record.Missing(s))
	for _, cat := range []model.Category{model.CategoryEvents, model.CategoryTechnology, model.CategoryMarketing} {
		assert.False(t, res.Record.HasData(cat), cat)
	}
}

func TestExtract_IdempotentOnDeterministicModel(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	client := &scriptedClient{replies: []string{fullResponse(s, model.CategoryFaculty)}}
	e := New(client, WithPolicy(fastPolicy(3)), WithClock(tickingClock()))

	first, _ := e.Extract(context.Background(), testSchool, testDoc())
	second, _ := e.Extract(context.Background(), testSchool, testDoc())

	assert.True(t, first.Record.Equal(second.Record))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.AttemptCount, second.AttemptCount)
	assert.NotEqual(t, first.ExtractedAt, second.ExtractedAt)
}

func TestExtract_RetryBound(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	client := &scriptedClient{replies: []string{"I'm sorry, I can't produce JSON for this page."}}
	res, usage := New(client, WithPolicy(fastPolicy(3))).Extract(context.Background(), testSchool, testDoc())

	assert.Equal(t, 3, client.calls())
	assert.Equal(t, 3, res.AttemptCount)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "not parseable")
	assert.Empty(t, res.Record.Missing(s))
	for _, cat := range s.Keys() {
		assert.False(t, res.Record.HasData(cat))
	}
	assert.Equal(t, int64(300), usage.InputTokens)
}

func TestExtract_RetryRestatesSchema(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	client := &scriptedClient{replies: []string{"{not json", "still {broken", fullResponse(s)}}
	res, _ := New(client, WithPolicy(fastPolicy(3))).Extract(context.Background(), testSchool, testDoc())

	require.Equal(t, 3, client.calls())
	assert.Equal(t, 3, res.AttemptCount)
	assert.True(t, res.Succeeded())

	first := client.requests[0].Messages[0].Content
	second := client.requests[1].Messages[0].Content
	third := client.requests[2].Messages[0].Content
	assert.NotContains(t, first, "previous answer")
	assert.Contains(t, second, "previous answer could not be used")
	assert.NotContains(t, second, "skeleton")
	assert.Contains(t, third, "skeleton")
	assert.Greater(t, len(third), len(second))
}

func TestExtract_TimeoutCountsTowardRetries(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{block: true, replies: []string{""}}
	p := fastPolicy(2)
	p.AttemptTimeout = 20 * time.Millisecond

	res, _ := New(client, WithPolicy(p)).Extract(context.Background(), testSchool, testDoc())
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, 2, res.AttemptCount)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "timed out")
}

func TestExtract_NonRetryableErrorStopsEarly(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{errs: []error{errors.New("invalid request: model not found")}, replies: []string{""}}
	res, _ := New(client, WithPolicy(fastPolicy(3))).Extract(context.Background(), testSchool, testDoc())
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, res.AttemptCount)
	assert.Equal(t, model.StatusFailed, res.Status)
}

func TestExtract_TransientErrorIsRetried(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	client := &scriptedClient{
		errs:    []error{resilience.NewTransientError(errors.New("overloaded"), 529)},
		replies: []string{"", fullResponse(s)},
	}
	res, _ := New(client, WithPolicy(fastPolicy(3))).Extract(context.Background(), testSchool, testDoc())
	assert.Equal(t, 2, res.AttemptCount)
	assert.Equal(t, model.StatusValid, res.Status)
}

func TestExtract_EmptyDocument(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	m := &mockClient{}
	res, usage := New(m).Extract(context.Background(), testSchool, &model.Document{SchoolID: testSchool.ID})

	m.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	assert.True(t, res.EmptyDocument)
	assert.Equal(t, 0, res.AttemptCount)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Empty(t, res.Record.Missing(s))
	assert.Equal(t, anthropic.TokenUsage{}, usage)
}

func TestExtract_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{replies: []string{"{}"}}
	res, _ := New(client, WithPolicy(fastPolicy(3))).Extract(ctx, testSchool, testDoc())
	assert.Equal(t, 0, client.calls())
	assert.Equal(t, model.StatusFailed, res.Status)
}

func TestSystemPromptListsEveryField(t *testing.T) {
	t.Parallel()

	s := model.DefaultSchema()
	prompt := systemPrompt(s)
	for _, c := range s.Categories {
		assert.Contains(t, prompt, string(c.Key)+" ("+c.Key.Title()+")")
		for _, f := range c.Fields {
			assert.Contains(t, prompt, "  - "+f.Name+": ")
		}
	}
}
