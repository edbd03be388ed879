package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// scriptedClient replays responses in order, repeating the last one, and
// records every request.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []anthropic.MessageRequest
	block    bool
}

func (s *scriptedClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	text := s.replies[len(s.replies)-1]
	if n < len(s.replies) {
		text = s.replies[n]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (s *scriptedClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fullResponse renders a response that fills every field of the schema with
// a correctly shaped value, skipping the listed categories.
func fullResponse(s *model.Schema, skip ...model.Category) string {
	skipped := make(map[model.Category]bool)
	for _, c := range skip {
		skipped[c] = true
	}
	var cats []string
	for _, c := range s.Categories {
		if skipped[c.Key] {
			continue
		}
		var fields []string
		for _, f := range c.Fields {
			var v string
			switch f.Kind {
			case model.KindList:
				v = fmt.Sprintf(`["%s one", "%s two"]`, f.Name, f.Name)
			case model.KindMap:
				v = fmt.Sprintf(`{"%s b": "2", "%s a": "1"}`, f.Name, f.Name)
			default:
				v = fmt.Sprintf(`"%s value"`, f.Name)
			}
			fields = append(fields, fmt.Sprintf("%q: %s", f.Name, v))
		}
		cats = append(cats, fmt.Sprintf("%q: {%s}", string(c.Key), strings.Join(fields, ", ")))
	}
	return "{" + strings.Join(cats, ", ") + "}"
}
