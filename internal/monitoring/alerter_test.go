package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/config"
	"github.com/sells-group/school-intel/internal/pipeline"
)

func report(outcomes ...pipeline.Outcome) *pipeline.RunReport {
	r := &pipeline.RunReport{ID: "run-1"}
	for i, o := range outcomes {
		r.Schools = append(r.Schools, pipeline.SchoolOutcome{SchoolID: string(rune('a' + i)), Outcome: o})
	}
	return r
}

func TestCollect(t *testing.T) {
	r := report(
		pipeline.OutcomeValid, pipeline.OutcomeRepaired, pipeline.OutcomeFailed,
		pipeline.OutcomeEmpty, pipeline.OutcomeFetchFailed, pipeline.OutcomeSkipped,
	)
	r.Cost = 1.25
	snap := Collect(r)

	assert.Equal(t, 6, snap.Total)
	assert.Equal(t, 5, snap.Started)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 3, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.InDelta(t, 0.6, snap.FailRate, 1e-9)
	assert.InDelta(t, 1.25, snap.CostUSD, 1e-9)
}

func TestCollect_NothingStarted(t *testing.T) {
	snap := Collect(report(pipeline.OutcomeSkipped, pipeline.OutcomeSkipped))
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, 0, snap.Started)
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, CostThresholdUSD: 10})
	snap := &RunSnapshot{RunID: "r", Total: 10, Started: 10, Failed: 2, FailRate: 0.2, CostUSD: 3}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	alerts := a.Evaluate(&RunSnapshot{RunID: "r", Total: 8, Started: 8, Failed: 4, FailRate: 0.5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")

	// Too few schools started to judge.
	assert.Empty(t, a.Evaluate(&RunSnapshot{Started: 3, Failed: 3, FailRate: 1}))
}

func TestAlerter_Evaluate_CostAndCancel(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{CostThresholdUSD: 5})

	alerts := a.Evaluate(&RunSnapshot{RunID: "r", Total: 5, Started: 2, Skipped: 3, CostUSD: 7.5, Cancelled: true})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$7.50")
	assert.Equal(t, AlertRunCancelled, alerts[1].Type)
	assert.Equal(t, "low", alerts[1].Severity)
	assert.Contains(t, alerts[1].Message, "3 of 5")
}

func TestAlerter_SendAlerts(t *testing.T) {
	got := make(chan Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var al Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&al))
		got <- al
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	n := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Severity: "high", Message: "m"}})
	assert.Equal(t, 1, n)
	assert.Equal(t, AlertCostOverrun, (<-got).Type)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunCancelled}}))
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunCancelled}}))
}

func TestAlerter_Observe(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.5})
	a.Observe(context.Background(), report(
		pipeline.OutcomeFailed, pipeline.OutcomeFailed, pipeline.OutcomeFailed,
		pipeline.OutcomeValid, pipeline.OutcomeEmpty,
	))
	assert.Equal(t, int32(1), received.Load())

	a.Observe(context.Background(), report(pipeline.OutcomeValid))
	assert.Equal(t, int32(1), received.Load())
}
