package monitoring

import (
	"fmt"
	"math"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
)

// EvaluatorConfig carries the hand-picked defaults the rules fall back to
// when a rule's own conditions omit them. These are configuration defaults,
// not invariants.
type EvaluatorConfig struct {
	AnomalyThreshold   float64 // default deviation bound for anomaly rules
	DriftThresholdPts  float64 // default drift bound in progress points
	DriftHighPts       float64 // drift beyond this escalates to high severity
	FailureThreshold   int     // default failure count for control_failure
	FailureWindowDays  int     // default rolling window for control_failure
	CriticalReadiness  float64 // readiness below this is critical
	AnomalyHistoryDays int     // minimum history the anomaly rule requires
}

// DefaultEvaluatorConfig returns the documented defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		AnomalyThreshold:   0.2,
		DriftThresholdPts:  15,
		DriftHighPts:       25,
		FailureThreshold:   3,
		FailureWindowDays:  7,
		CriticalReadiness:  80,
		AnomalyHistoryDays: 7,
	}
}

// Evaluator turns metric snapshots into alerts, one rule at a time. Pure
// given a snapshot: no clock, no store, no side effects.
type Evaluator struct {
	cfg EvaluatorConfig
}

// NewEvaluator creates an evaluator with the given defaults.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate applies one rule to a snapshot and returns zero or more alerts.
// A rule whose conditions cannot be applied to the snapshot's shape returns a
// rule evaluation error; the caller skips this cycle and other rules still run.
func (e *Evaluator) Evaluate(rule *monitoring.MonitoringRule, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	if snapshot == nil {
		return nil, errors.NewRuleEvaluationError("nil metric snapshot")
	}
	switch cond := rule.Conditions.(type) {
	case monitoring.ThresholdConditions:
		return e.evaluateThreshold(rule, cond, snapshot)
	case monitoring.AnomalyConditions:
		return e.evaluateAnomaly(rule, cond, snapshot)
	case monitoring.DriftConditions:
		return e.evaluateDrift(rule, cond, snapshot)
	case monitoring.ExpiryConditions:
		return e.evaluateExpiry(rule, cond, snapshot)
	case monitoring.ControlFailureConditions:
		return e.evaluateControlFailure(rule, cond, snapshot)
	default:
		return nil, errors.NewRuleEvaluationError(fmt.Sprintf("rule %s has unsupported conditions", rule.ID))
	}
}

// thresholdSeverity scales severity with the relative deviation from the
// threshold: >=0.5 critical, >=0.3 high, >=0.15 medium, else low.
func thresholdSeverity(current, threshold float64) monitoring.Severity {
	deviation := math.Abs(current-threshold) / threshold
	switch {
	case deviation >= 0.5:
		return monitoring.SeverityCritical
	case deviation >= 0.3:
		return monitoring.SeverityHigh
	case deviation >= 0.15:
		return monitoring.SeverityMedium
	default:
		return monitoring.SeverityLow
	}
}

func (e *Evaluator) evaluateThreshold(rule *monitoring.MonitoringRule, cond monitoring.ThresholdConditions, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	var alerts []*monitoring.ComplianceAlert
	for _, controlID := range rule.ControlIDs {
		metrics, ok := snapshot.Controls[controlID]
		if !ok {
			return nil, errors.NewRuleEvaluationError(fmt.Sprintf("control %s missing from snapshot", controlID))
		}

		var current float64
		switch cond.Metric {
		case "implementation_progress":
			current = metrics.ImplementationProgress
		case "recent_failures":
			current = float64(metrics.RecentFailures)
		default:
			return nil, errors.NewRuleEvaluationError(fmt.Sprintf("unknown threshold metric %q", cond.Metric))
		}

		breached := current > cond.Threshold
		if cond.Below {
			breached = current < cond.Threshold
		}
		if !breached {
			continue
		}

		alerts = append(alerts, monitoring.NewAlert(
			rule.ID,
			monitoring.RuleThreshold,
			thresholdSeverity(current, cond.Threshold),
			fmt.Sprintf("Threshold breach on control %s", controlID),
			fmt.Sprintf("%s is %.1f against threshold %.1f", cond.Metric, current, cond.Threshold),
			map[string]interface{}{
				"metric":    cond.Metric,
				"current":   current,
				"threshold": cond.Threshold,
			},
			[]string{controlID},
		))
	}
	return alerts, nil
}

// evaluateAnomaly compares the most recent daily pass rate against the
// trailing seven-day average. Fewer than seven days of history never emits:
// there is not enough data to call anything anomalous. An unexpected
// improvement is flagged at medium since it can also indicate a broken test.
func (e *Evaluator) evaluateAnomaly(rule *monitoring.MonitoringRule, cond monitoring.AnomalyConditions, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	threshold := cond.AnomalyThreshold
	if threshold == 0 {
		threshold = e.cfg.AnomalyThreshold
	}

	var alerts []*monitoring.ComplianceAlert
	for _, controlID := range rule.ControlIDs {
		metrics, ok := snapshot.Controls[controlID]
		if !ok {
			return nil, errors.NewRuleEvaluationError(fmt.Sprintf("control %s missing from snapshot", controlID))
		}

		rates := metrics.DailyPassRates
		// Recent day plus at least a full window of history.
		if len(rates) < e.cfg.AnomalyHistoryDays+1 {
			continue
		}

		recent := rates[len(rates)-1].PassRate
		history := rates[len(rates)-1-e.cfg.AnomalyHistoryDays : len(rates)-1]
		var sum float64
		for _, r := range history {
			sum += r.PassRate
		}
		trailing := sum / float64(len(history))

		deviation := recent - trailing
		if math.Abs(deviation) <= threshold {
			continue
		}

		severity := monitoring.SeverityHigh
		direction := "degraded"
		if deviation > 0 {
			severity = monitoring.SeverityMedium
			direction = "improved unexpectedly"
		}

		alerts = append(alerts, monitoring.NewAlert(
			rule.ID,
			monitoring.RuleAnomaly,
			severity,
			fmt.Sprintf("Pass-rate anomaly on control %s", controlID),
			fmt.Sprintf("daily pass rate %s: %.2f vs trailing average %.2f", direction, recent, trailing),
			map[string]interface{}{
				"recent":            recent,
				"trailing_average":  trailing,
				"deviation":         deviation,
				"anomaly_threshold": threshold,
			},
			[]string{controlID},
		))
	}
	return alerts, nil
}

func (e *Evaluator) evaluateDrift(rule *monitoring.MonitoringRule, cond monitoring.DriftConditions, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	maxDrift := cond.MaxDriftPoints
	if maxDrift == 0 {
		maxDrift = e.cfg.DriftThresholdPts
	}

	var alerts []*monitoring.ComplianceAlert
	for _, controlID := range rule.ControlIDs {
		metrics, ok := snapshot.Controls[controlID]
		if !ok {
			return nil, errors.NewRuleEvaluationError(fmt.Sprintf("control %s missing from snapshot", controlID))
		}
		if !metrics.HasAssessment {
			continue
		}

		drift := math.Abs(metrics.ImplementationProgress - metrics.AssessedProgress)
		if drift <= maxDrift {
			continue
		}

		severity := monitoring.SeverityMedium
		if drift > e.cfg.DriftHighPts {
			severity = monitoring.SeverityHigh
		}

		alerts = append(alerts, monitoring.NewAlert(
			rule.ID,
			monitoring.RuleComplianceDrift,
			severity,
			fmt.Sprintf("Compliance drift on control %s", controlID),
			fmt.Sprintf("recorded progress %.0f diverges from assessed progress %.0f by %.0f points", metrics.ImplementationProgress, metrics.AssessedProgress, drift),
			map[string]interface{}{
				"recorded_progress": metrics.ImplementationProgress,
				"assessed_progress": metrics.AssessedProgress,
				"drift":             drift,
				"max_drift":         maxDrift,
			},
			[]string{controlID},
		))
	}
	return alerts, nil
}

func (e *Evaluator) evaluateExpiry(rule *monitoring.MonitoringRule, cond monitoring.ExpiryConditions, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	framework, ok := snapshot.Frameworks[rule.FrameworkID]
	if !ok {
		return nil, errors.NewRuleEvaluationError(fmt.Sprintf("framework %s missing from snapshot", rule.FrameworkID))
	}

	readiness := framework.ReadinessPct()
	if readiness >= cond.RequiredReadinessPct {
		return nil, nil
	}

	severity := monitoring.SeverityHigh
	if readiness < e.cfg.CriticalReadiness {
		severity = monitoring.SeverityCritical
	}

	return []*monitoring.ComplianceAlert{monitoring.NewAlert(
		rule.ID,
		monitoring.RuleCertificationExpiry,
		severity,
		"Certification readiness below requirement",
		fmt.Sprintf("framework readiness %.1f%% is below required %.1f%%", readiness, cond.RequiredReadinessPct),
		map[string]interface{}{
			"readiness_pct":        readiness,
			"required_pct":         cond.RequiredReadinessPct,
			"implemented_controls": framework.ImplementedControls,
			"total_controls":       framework.TotalControls,
		},
		rule.ControlIDs,
	)}, nil
}

// evaluateControlFailure flags controls with repeated test failures inside
// the rolling window, one alert per breaching control. Severity follows the
// control's declared risk level.
func (e *Evaluator) evaluateControlFailure(rule *monitoring.MonitoringRule, cond monitoring.ControlFailureConditions, snapshot *monitoring.MetricSnapshot) ([]*monitoring.ComplianceAlert, error) {
	minFailures := cond.FailureCount
	if minFailures == 0 {
		minFailures = e.cfg.FailureThreshold
	}
	window := cond.WindowDays
	if window == 0 {
		window = e.cfg.FailureWindowDays
	}

	var alerts []*monitoring.ComplianceAlert
	for _, controlID := range rule.ControlIDs {
		metrics, ok := snapshot.Controls[controlID]
		if !ok {
			return nil, errors.NewRuleEvaluationError(fmt.Sprintf("control %s missing from snapshot", controlID))
		}
		if metrics.RecentFailures < minFailures {
			continue
		}

		alerts = append(alerts, monitoring.NewAlert(
			rule.ID,
			monitoring.RuleControlFailure,
			metrics.RiskLevel.Severity(),
			fmt.Sprintf("Repeated test failures on control %s", controlID),
			fmt.Sprintf("%d test failures inside %d days (threshold %d)", metrics.RecentFailures, window, minFailures),
			map[string]interface{}{
				"failures":    metrics.RecentFailures,
				"window_days": window,
				"threshold":   minFailures,
				"risk_level":  string(metrics.RiskLevel),
			},
			[]string{controlID},
		))
	}
	return alerts, nil
}
