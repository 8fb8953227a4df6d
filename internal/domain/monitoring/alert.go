package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting and aggregation; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// validAlertTransitions holds the permitted status moves. Resolved and
// false_positive are terminal.
var validAlertTransitions = map[AlertStatus][]AlertStatus{
	AlertOpen:          {AlertAcknowledged, AlertInvestigating, AlertResolved, AlertFalsePositive},
	AlertAcknowledged:  {AlertInvestigating, AlertResolved, AlertFalsePositive},
	AlertInvestigating: {AlertResolved, AlertFalsePositive},
}

// ComplianceAlert is produced by rule evaluation and mutated only through
// status transitions. TriggerData carries the exact values that caused the
// alert so the decision can be reproduced.
type ComplianceAlert struct {
	ID               uuid.UUID              `json:"id"`
	RuleID           uuid.UUID              `json:"rule_id"`
	Type             RuleType               `json:"type"`
	Severity         Severity               `json:"severity"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	TriggerData      map[string]interface{} `json:"trigger_data"`
	ControlIDs       []string               `json:"control_ids"`
	RiskSummary      string                 `json:"risk_summary,omitempty"`
	SuggestedActions []string               `json:"suggested_actions,omitempty"`
	Status           AlertStatus            `json:"status"`
	CreatedAt        time.Time              `json:"created_at"`
	AcknowledgedAt   *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time             `json:"resolved_at,omitempty"`
}

// NewAlert creates an open alert.
func NewAlert(ruleID uuid.UUID, ruleType RuleType, severity Severity, title, description string, trigger map[string]interface{}, controlIDs []string) *ComplianceAlert {
	return &ComplianceAlert{
		ID:          uuid.New(),
		RuleID:      ruleID,
		Type:        ruleType,
		Severity:    severity,
		Title:       title,
		Description: description,
		TriggerData: trigger,
		ControlIDs:  controlIDs,
		Status:      AlertOpen,
		CreatedAt:   time.Now().UTC(),
	}
}

// Transition moves the alert to a new status, stamping acknowledgement and
// resolution times.
func (a *ComplianceAlert) Transition(to AlertStatus) error {
	allowed, ok := validAlertTransitions[a.Status]
	if !ok {
		return errors.NewConflictError(fmt.Sprintf("alert in terminal status %q", a.Status))
	}
	for _, next := range allowed {
		if next == to {
			now := time.Now().UTC()
			switch to {
			case AlertAcknowledged:
				a.AcknowledgedAt = &now
			case AlertResolved, AlertFalsePositive:
				a.ResolvedAt = &now
			}
			a.Status = to
			return nil
		}
	}
	return errors.NewConflictError(fmt.Sprintf("invalid alert transition %q -> %q", a.Status, to))
}

// Fingerprint is a deterministic digest of the alert's identity-bearing
// fields. Two evaluations of the same rule over an unchanged snapshot yield
// the same fingerprint, enabling dedupe by callers.
func (a *ComplianceAlert) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|", a.RuleID, a.Type, a.Severity, a.Title)

	controls := append([]string(nil), a.ControlIDs...)
	sort.Strings(controls)
	for _, c := range controls {
		fmt.Fprintf(h, "%s,", c)
	}

	keys := make([]string, 0, len(a.TriggerData))
	for k := range a.TriggerData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(a.TriggerData[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
