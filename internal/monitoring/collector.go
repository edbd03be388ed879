package monitoring

import (
	"time"

	"github.com/sells-group/school-intel/internal/pipeline"
)

// RunSnapshot holds the health figures of one extraction run.
type RunSnapshot struct {
	RunID       string    `json:"run_id"`
	Total       int       `json:"total"`
	Started     int       `json:"started"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	FailRate    float64   `json:"fail_rate"`
	CostUSD     float64   `json:"cost_usd"`
	Cancelled   bool      `json:"cancelled"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collect derives a snapshot from a run report. Failed counts every started
// school that produced no usable record (failed, empty or fetch-failed);
// the rate is taken over started schools.
func Collect(r *pipeline.RunReport) *RunSnapshot {
	snap := &RunSnapshot{
		RunID:       r.ID,
		Total:       len(r.Schools),
		Started:     r.Started(),
		Succeeded:   r.Count(pipeline.OutcomeValid) + r.Count(pipeline.OutcomeRepaired),
		Failed:      r.Count(pipeline.OutcomeFailed) + r.Count(pipeline.OutcomeEmpty) + r.Count(pipeline.OutcomeFetchFailed),
		Skipped:     r.Count(pipeline.OutcomeSkipped),
		CostUSD:     r.Cost,
		Cancelled:   r.Cancelled,
		CollectedAt: time.Now().UTC(),
	}
	if snap.Started > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Started)
	}
	return snap
}
