package monitoring

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// RuleType enumerates the monitoring conditions the evaluator understands.
type RuleType string

const (
	RuleThreshold           RuleType = "threshold"
	RuleAnomaly             RuleType = "anomaly"
	RuleComplianceDrift     RuleType = "compliance_drift"
	RuleCertificationExpiry RuleType = "certification_expiry"
	RuleControlFailure      RuleType = "control_failure"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleThreshold, RuleAnomaly, RuleComplianceDrift,
		RuleCertificationExpiry, RuleControlFailure:
		return true
	}
	return false
}

// RuleConditions is the tagged-variant condition payload for a rule type.
// Conditions arrive as JSON at the boundary and are parsed exactly once into
// the typed variant.
type RuleConditions interface {
	Type() RuleType
	validate() error
}

// ThresholdConditions compares a named metric against a bound. Severity
// scales with the relative deviation from the threshold.
type ThresholdConditions struct {
	Metric    string  `json:"metric"` // implementation_progress | recent_failures
	Threshold float64 `json:"threshold"`
	// Below flags when the metric falls under the threshold (progress);
	// when false the rule flags values above it (failure counts).
	Below bool `json:"below"`
}

func (c ThresholdConditions) Type() RuleType { return RuleThreshold }
func (c ThresholdConditions) validate() error {
	if c.Metric == "" {
		return errors.NewValidationError("MISSING_METRIC", "threshold rule requires a metric name")
	}
	if c.Threshold <= 0 {
		return errors.NewValidationError("INVALID_THRESHOLD", "threshold must be positive")
	}
	return nil
}

// AnomalyConditions flags a recent daily pass rate that deviates from the
// trailing seven-day average by more than the threshold.
type AnomalyConditions struct {
	AnomalyThreshold float64 `json:"anomaly_threshold"`
}

func (c AnomalyConditions) Type() RuleType { return RuleAnomaly }
func (c AnomalyConditions) validate() error {
	if c.AnomalyThreshold <= 0 || c.AnomalyThreshold >= 1 {
		return errors.NewValidationError("INVALID_THRESHOLD", "anomaly threshold must be within (0, 1)")
	}
	return nil
}

// DriftConditions flags divergence between a control's recorded
// implementation progress and its most recent oracle-assessed progress.
type DriftConditions struct {
	MaxDriftPoints float64 `json:"max_drift_points"`
}

func (c DriftConditions) Type() RuleType { return RuleComplianceDrift }
func (c DriftConditions) validate() error {
	if c.MaxDriftPoints <= 0 {
		return errors.NewValidationError("INVALID_DRIFT", "max drift must be positive")
	}
	return nil
}

// ExpiryConditions flags a framework whose implemented/total control ratio is
// below the readiness required for (re)certification.
type ExpiryConditions struct {
	RequiredReadinessPct float64 `json:"required_readiness_pct"`
}

func (c ExpiryConditions) Type() RuleType { return RuleCertificationExpiry }
func (c ExpiryConditions) validate() error {
	if c.RequiredReadinessPct <= 0 || c.RequiredReadinessPct > 100 {
		return errors.NewValidationError("INVALID_READINESS", "required readiness must be within (0, 100]")
	}
	return nil
}

// ControlFailureConditions flags a control with repeated test failures inside
// a rolling window.
type ControlFailureConditions struct {
	FailureCount int `json:"failure_count"`
	WindowDays   int `json:"window_days"`
}

func (c ControlFailureConditions) Type() RuleType { return RuleControlFailure }
func (c ControlFailureConditions) validate() error {
	if c.FailureCount < 1 {
		return errors.NewValidationError("INVALID_FAILURE_COUNT", "failure count must be at least 1")
	}
	if c.WindowDays < 1 {
		return errors.NewValidationError("INVALID_WINDOW", "window must be at least 1 day")
	}
	return nil
}

// MonitoringRule is a standing condition evaluated on its own cadence against
// stored metrics. Immutable after creation except the active toggle.
type MonitoringRule struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	FrameworkID    uuid.UUID      `json:"framework_id"`
	ControlIDs     []string       `json:"control_ids"`
	Conditions     RuleConditions `json:"-"`
	CheckFrequency time.Duration  `json:"check_frequency"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewRule builds and validates a monitoring rule.
func NewRule(name string, frameworkID uuid.UUID, controlIDs []string, conditions RuleConditions, frequency time.Duration) (*MonitoringRule, error) {
	if name == "" {
		return nil, errors.NewValidationError("MISSING_NAME", "monitoring rule requires a name")
	}
	if conditions == nil {
		return nil, errors.NewValidationError("MISSING_CONDITIONS", "monitoring rule requires conditions")
	}
	if !conditions.Type().Valid() {
		return nil, errors.NewValidationError("INVALID_RULE_TYPE", fmt.Sprintf("unknown rule type %q", conditions.Type()))
	}
	if err := conditions.validate(); err != nil {
		return nil, err
	}
	if frequency <= 0 {
		return nil, errors.NewValidationError("INVALID_FREQUENCY", "check frequency must be positive")
	}
	return &MonitoringRule{
		ID:             uuid.New(),
		Name:           name,
		FrameworkID:    frameworkID,
		ControlIDs:     controlIDs,
		Conditions:     conditions,
		CheckFrequency: frequency,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Type returns the rule's condition type.
func (r *MonitoringRule) Type() RuleType {
	if r.Conditions == nil {
		return ""
	}
	return r.Conditions.Type()
}

// MarshalConditions serializes the condition payload for persistence.
func (r *MonitoringRule) MarshalConditions() ([]byte, error) {
	data, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal rule conditions").WithCause(err)
	}
	return data, nil
}

// ParseConditions decodes a stored condition payload into the typed variant
// for the given rule type.
func ParseConditions(ruleType RuleType, raw []byte) (RuleConditions, error) {
	if len(raw) == 0 {
		return nil, errors.NewValidationError("MISSING_CONDITIONS", "empty rule conditions")
	}
	switch ruleType {
	case RuleThreshold:
		var c ThresholdConditions
		return c, json.Unmarshal(raw, &c)
	case RuleAnomaly:
		var c AnomalyConditions
		return c, json.Unmarshal(raw, &c)
	case RuleComplianceDrift:
		var c DriftConditions
		return c, json.Unmarshal(raw, &c)
	case RuleCertificationExpiry:
		var c ExpiryConditions
		return c, json.Unmarshal(raw, &c)
	case RuleControlFailure:
		var c ControlFailureConditions
		return c, json.Unmarshal(raw, &c)
	default:
		return nil, errors.NewValidationError("INVALID_RULE_TYPE", fmt.Sprintf("unknown rule type %q", ruleType))
	}
}

var (
	_ RuleConditions = ThresholdConditions{}
	_ RuleConditions = AnomalyConditions{}
	_ RuleConditions = DriftConditions{}
	_ RuleConditions = ExpiryConditions{}
	_ RuleConditions = ControlFailureConditions{}
)
