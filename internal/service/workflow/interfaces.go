package workflow

import (
	"context"
	"time"

	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// AssessmentRequest identifies the control or risk the oracle should
// evaluate.
type AssessmentRequest struct {
	TargetType string `json:"target_type"` // control | risk
	TargetID   string `json:"target_id"`
	Focus      string `json:"focus,omitempty"`
}

// Assessment is the oracle's structured, confidence-scored answer.
type Assessment struct {
	ConfidenceScore float64  `json:"confidence_score"` // 0..1
	Gaps            []string `json:"gaps"`
	Recommendations []string `json:"recommendations"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
}

// AssessmentOracle is the external capability that evaluates a control or
// risk. It may fail or time out; the core treats any failure as a step
// failure eligible for retry, never as a silent success.
type AssessmentOracle interface {
	Assess(ctx context.Context, req AssessmentRequest) (*Assessment, error)
}

// Notifier is the outbound notification channel. Fire-and-forget: delivery
// failures are logged by callers, never retried by the core.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// CheckResult is the outcome of one automated check against a control.
type CheckResult struct {
	CheckID string    `json:"check_id"`
	Name    string    `json:"name"`
	Passed  bool      `json:"passed"`
	Detail  string    `json:"detail,omitempty"`
	RunAt   time.Time `json:"run_at"`
}

// EvidenceRecord is one piece of collected compliance evidence.
type EvidenceRecord struct {
	ID          string                 `json:"id"`
	ControlID   string                 `json:"control_id"`
	Source      string                 `json:"source"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CollectedAt time.Time              `json:"collected_at"`
}

// ControlStore is the step handlers' view of the metric store: evaluate a
// control's registered automated checks, pull evidence, and append the
// results automation produces.
type ControlStore interface {
	EvaluateChecks(ctx context.Context, controlID, suite string) ([]CheckResult, error)
	AppendTestResults(ctx context.Context, controlID string, results []CheckResult) error
	CollectEvidence(ctx context.Context, controlID string, sources []string) ([]EvidenceRecord, error)
	AppendEvidence(ctx context.Context, records []EvidenceRecord) error
}

// StepHandler performs one step kind's real work. Shared by the workflow
// executor and the standalone automation runner: an automation run is an
// execution of a one-step, dependency-free workflow.
type StepHandler interface {
	Kind() workflow.StepKind
	Execute(ctx context.Context, step workflow.WorkflowStep, exec *workflow.WorkflowExecution) (workflow.StepResult, error)
}
