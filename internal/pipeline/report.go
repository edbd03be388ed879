package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/school-intel/pkg/anthropic"
)

// Outcome is how one school's pipeline ended.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeRepaired    Outcome = "repaired"
	OutcomeFailed      Outcome = "failed"
	OutcomeEmpty       Outcome = "empty"
	OutcomeFetchFailed Outcome = "fetch-failed"
	OutcomeSkipped     Outcome = "skipped"
)

// SchoolOutcome is the run report line of one school.
type SchoolOutcome struct {
	SchoolID    string               `json:"school_id"`
	Name        string               `json:"name,omitempty"`
	Outcome     Outcome              `json:"outcome"`
	Attempts    int                  `json:"attempts"`
	Pages       int                  `json:"pages"`
	PagesFailed int                  `json:"pages_failed"`
	Usage       anthropic.TokenUsage `json:"usage"`
	JinaTokens  int                  `json:"jina_tokens,omitempty"`
	Cost        float64              `json:"cost_usd"`
	Duration    time.Duration        `json:"duration_ns"`
	Error       string               `json:"error,omitempty"`
}

// RunReport describes one RunExtraction call.
type RunReport struct {
	ID         string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Model      string               `json:"model"`
	Cancelled  bool                 `json:"cancelled,omitempty"`
	Schools    []SchoolOutcome      `json:"schools"`
	Usage      anthropic.TokenUsage `json:"usage"`
	JinaTokens int                  `json:"jina_tokens,omitempty"`
	Cost       float64              `json:"cost_usd"`
}

// Count returns how many schools ended with outcome o.
func (r *RunReport) Count(o Outcome) int {
	n := 0
	for _, s := range r.Schools {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

// Started returns how many schools began their pipeline.
func (r *RunReport) Started() int {
	return len(r.Schools) - r.Count(OutcomeSkipped)
}

// FormatReport renders a run report as markdown.
func FormatReport(r *RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Extraction Run %s\n", r.ID)
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Model: %s\n", r.Model)
	if r.Cancelled {
		b.WriteString("**Cancelled**: schools not yet started were skipped.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Schools: %d (%d started)\n", len(r.Schools), r.Started())
	for _, o := range []Outcome{OutcomeValid, OutcomeRepaired, OutcomeFailed, OutcomeEmpty, OutcomeFetchFailed, OutcomeSkipped} {
		if n := r.Count(o); n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", o, n)
		}
	}
	fmt.Fprintf(&b, "- Token usage: %d input, %d output, %d cache read\n",
		r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CacheReadInputTokens)
	if r.JinaTokens > 0 {
		fmt.Fprintf(&b, "- Jina tokens: %d\n", r.JinaTokens)
	}
	fmt.Fprintf(&b, "- Estimated cost: $%.4f\n\n", r.Cost)

	b.WriteString("## Schools\n")
	b.WriteString("| School | Outcome | Attempts | Pages | Cost | Note |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, s := range r.Schools {
		name := s.Name
		if name == "" {
			name = s.SchoolID
		}
		pages := fmt.Sprintf("%d", s.Pages)
		if s.PagesFailed > 0 {
			pages = fmt.Sprintf("%d ok, %d failed", s.Pages, s.PagesFailed)
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | $%.4f | %s |\n",
			name, s.Outcome, s.Attempts, pages, s.Cost, tableSafe(s.Error))
	}
	return b.String()
}

func tableSafe(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
