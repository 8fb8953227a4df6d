package automation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
)

// RuleType names the single-purpose automation a rule performs.
type RuleType string

const (
	RuleTesting            RuleType = "testing"
	RuleEvidenceCollection RuleType = "evidence_collection"
	RuleMonitoring         RuleType = "monitoring"
	RuleReporting          RuleType = "reporting"
	RuleRemediation        RuleType = "remediation"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTesting, RuleEvidenceCollection, RuleMonitoring, RuleReporting, RuleRemediation:
		return true
	}
	return false
}

// AutomationRule is a narrow, single-purpose scheduled automation targeting
// one control. Counters and execution timestamps are mutated only by the
// rule runner.
type AutomationRule struct {
	ID        uuid.UUID `json:"id"`
	ControlID string    `json:"control_id"`
	Type      RuleType  `json:"type"`
	Schedule  string    `json:"schedule"` // cron expression
	Active    bool      `json:"active"`

	SuccessCount        int `json:"success_count"`
	FailureCount        int `json:"failure_count"`
	ConsecutiveFailures int `json:"consecutive_failures"`

	LastExecuted  *time.Time `json:"last_executed,omitempty"`
	NextExecution *time.Time `json:"next_execution,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewRule builds and validates an automation rule.
func NewRule(controlID string, ruleType RuleType, schedule string) (*AutomationRule, error) {
	if controlID == "" {
		return nil, errors.NewValidationError("MISSING_CONTROL", "automation rule requires a control id")
	}
	if !ruleType.Valid() {
		return nil, errors.NewValidationError("INVALID_RULE_TYPE", "unknown automation rule type")
	}
	if schedule == "" {
		return nil, errors.NewValidationError("MISSING_SCHEDULE", "automation rule requires a schedule")
	}
	return &AutomationRule{
		ID:        uuid.New(),
		ControlID: controlID,
		Type:      ruleType,
		Schedule:  schedule,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// RecordSuccess updates counters after a successful run.
func (r *AutomationRule) RecordSuccess(at time.Time) {
	r.SuccessCount++
	r.ConsecutiveFailures = 0
	r.LastExecuted = &at
}

// RecordFailure updates counters after a failed run.
func (r *AutomationRule) RecordFailure(at time.Time) {
	r.FailureCount++
	r.ConsecutiveFailures++
	r.LastExecuted = &at
}

// Finding is one structured issue surfaced by an automation run. Findings
// flow into the alert manager's intake path; they have no store of their own.
type Finding struct {
	Severity    monitoring.Severity `json:"severity"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Remediation string              `json:"remediation,omitempty"`
}

// ExecutionResult is the outcome of one automation rule run.
type ExecutionResult struct {
	RuleID            uuid.UUID `json:"rule_id"`
	Success           bool      `json:"success"`
	TestsPassed       int       `json:"tests_passed"`
	TestsFailed       int       `json:"tests_failed"`
	EvidenceCollected []string  `json:"evidence_collected,omitempty"`
	ComplianceScore   float64   `json:"compliance_score"`
	Findings          []Finding `json:"findings,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
}

// Repository persists automation rules. Stats updates are a single atomic
// write per rule record.
type Repository interface {
	Save(ctx context.Context, rule *AutomationRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*AutomationRule, error)
	ListActive(ctx context.Context) ([]*AutomationRule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// UpdateStats writes counters and execution timestamps in one statement.
	UpdateStats(ctx context.Context, rule *AutomationRule) error
}
