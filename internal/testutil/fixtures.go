package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// TestStep builds an automated test step with no dependencies.
func TestStep(id, controlID string, dependsOn ...string) workflow.WorkflowStep {
	return workflow.WorkflowStep{
		ID:        id,
		Params:    workflow.AutomatedTestParams{ControlID: controlID},
		DependsOn: dependsOn,
	}
}

// NotificationStep builds a notification step.
func NotificationStep(id string, dependsOn ...string) workflow.WorkflowStep {
	return workflow.WorkflowStep{
		ID:        id,
		Params:    workflow.NotificationParams{Recipients: []string{"ops@example.com"}, Subject: "workflow update"},
		DependsOn: dependsOn,
	}
}

// ControlSnapshot builds a single-control metric snapshot for evaluator
// tests. Mutate the returned snapshot's maps to shape the scenario.
func ControlSnapshot(controlID string, metrics monitoring.ControlMetrics) *monitoring.MetricSnapshot {
	metrics.ControlID = controlID
	return &monitoring.MetricSnapshot{
		Controls:   map[string]monitoring.ControlMetrics{controlID: metrics},
		Frameworks: make(map[uuid.UUID]monitoring.FrameworkMetrics),
		TakenAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// PassRateHistory builds n trailing daily pass rates ending today, oldest
// first, all at the given rate except the final day which uses todayRate.
func PassRateHistory(n int, rate, todayRate float64) []monitoring.DailyPassRate {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(n - 1))
	rates := make([]monitoring.DailyPassRate, 0, n)
	for i := 0; i < n; i++ {
		r := rate
		if i == n-1 {
			r = todayRate
		}
		rates = append(rates, monitoring.DailyPassRate{Day: day.AddDate(0, 0, i), PassRate: r, Total: 10})
	}
	return rates
}
