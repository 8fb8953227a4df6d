package monitoring

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is a control's declared inherent risk, used to scale
// control-failure alert severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity maps a control risk level onto an alert severity.
func (r RiskLevel) Severity() Severity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DailyPassRate is one day of aggregated test outcomes for a control.
type DailyPassRate struct {
	Day      time.Time `json:"day"`
	PassRate float64   `json:"pass_rate"` // 0..1
	Total    int       `json:"total"`
}

// ControlMetrics is the read-only slice of the metric store that rule
// evaluation consumes for one control.
type ControlMetrics struct {
	ControlID string    `json:"control_id"`
	RiskLevel RiskLevel `json:"risk_level"`

	// ImplementationProgress is the recorded progress, 0..100.
	ImplementationProgress float64 `json:"implementation_progress"`
	// AssessedProgress is the most recent oracle-assessed progress, 0..100.
	// Negative when no assessment exists.
	AssessedProgress float64 `json:"assessed_progress"`
	HasAssessment    bool    `json:"has_assessment"`

	// RecentFailures counts failed test results in the trailing window.
	RecentFailures int `json:"recent_failures"`
	// FailureWindowDays is the window RecentFailures was computed over.
	FailureWindowDays int `json:"failure_window_days"`

	// DailyPassRates holds trailing daily pass rates, oldest first. The most
	// recent entry is "today"; the preceding entries form the history the
	// anomaly rule averages over.
	DailyPassRates []DailyPassRate `json:"daily_pass_rates"`
}

// FrameworkMetrics is the framework-level rollup for readiness rules.
type FrameworkMetrics struct {
	FrameworkID         uuid.UUID `json:"framework_id"`
	TotalControls       int       `json:"total_controls"`
	ImplementedControls int       `json:"implemented_controls"`
}

// ReadinessPct returns implemented/total as a percentage, 0 when the
// framework has no controls.
func (f FrameworkMetrics) ReadinessPct() float64 {
	if f.TotalControls == 0 {
		return 0
	}
	return float64(f.ImplementedControls) / float64(f.TotalControls) * 100
}

// MetricSnapshot is one point-in-time view of the metric store. Evaluation is
// pure given a snapshot: the same snapshot always yields structurally
// identical alerts.
type MetricSnapshot struct {
	Controls   map[string]ControlMetrics      `json:"controls"`
	Frameworks map[uuid.UUID]FrameworkMetrics `json:"frameworks"`
	TakenAt    time.Time                      `json:"taken_at"`
}
