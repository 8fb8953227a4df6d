package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

// Terminal reports whether no further steps may run.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// StepStatus is the outcome of one step within an execution.
type StepStatus string

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failed"
	// StepSkipped marks a step whose dependencies did not all succeed.
	// Structurally not applicable, not an error.
	StepSkipped StepStatus = "skipped"
)

// StepResult is the recorded outcome of one step attempt chain.
type StepResult struct {
	StepID      string                 `json:"step_id"`
	Status      StepStatus             `json:"status"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Confidence  *float64               `json:"confidence,omitempty"`
	Attempts    int                    `json:"attempts"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// ApprovalDecision is the external human input that resumes a suspended
// execution.
type ApprovalDecision struct {
	Approved  bool      `json:"approved"`
	Approver  string    `json:"approver"`
	Comments  string    `json:"comments,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// WorkflowExecution is one run of a definition against concrete trigger data.
// It is owned exclusively by the executor; every other component reads only.
type WorkflowExecution struct {
	ID             uuid.UUID              `json:"id"`
	DefinitionID   uuid.UUID              `json:"definition_id"`
	Status         ExecutionStatus        `json:"status"`
	CurrentStep    string                 `json:"current_step,omitempty"`
	WaitingOnStep  string                 `json:"waiting_on_step,omitempty"`
	StepResults    map[string]StepResult  `json:"step_results"`
	TriggerPayload map[string]interface{} `json:"trigger_payload,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	ErrorDetail    string                 `json:"error_detail,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewExecution creates an execution in pending state.
func NewExecution(definitionID uuid.UUID, trigger map[string]interface{}) *WorkflowExecution {
	now := time.Now().UTC()
	return &WorkflowExecution{
		ID:             uuid.New(),
		DefinitionID:   definitionID,
		Status:         ExecutionPending,
		StepResults:    make(map[string]StepResult),
		TriggerPayload: trigger,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Start transitions pending → running.
func (e *WorkflowExecution) Start() error {
	if e.Status != ExecutionPending {
		return errors.NewConflictError(fmt.Sprintf("cannot start execution in status %q", e.Status))
	}
	e.Status = ExecutionRunning
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordStepResult stores the outcome of a step. Results are keyed by step id
// and written exactly once per step.
func (e *WorkflowExecution) RecordStepResult(res StepResult) error {
	if e.Status.Terminal() {
		return errors.NewConflictError(fmt.Sprintf("cannot record step result on %s execution", e.Status))
	}
	if _, exists := e.StepResults[res.StepID]; exists {
		return errors.NewConflictError(fmt.Sprintf("step %q already has a result", res.StepID))
	}
	e.StepResults[res.StepID] = res
	e.CurrentStep = res.StepID
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DependenciesMet reports whether every dependency of the step has a success
// result in this execution.
func (e *WorkflowExecution) DependenciesMet(step WorkflowStep) bool {
	for _, dep := range step.DependsOn {
		res, ok := e.StepResults[dep]
		if !ok || res.Status != StepSucceeded {
			return false
		}
	}
	return true
}

// Executed reports whether the step already has a recorded result.
func (e *WorkflowExecution) Executed(stepID string) bool {
	_, ok := e.StepResults[stepID]
	return ok
}

// Suspend transitions running → waiting_approval, remembering which step is
// waiting on a human decision. The execution persists in this state; nothing
// polls for the decision.
func (e *WorkflowExecution) Suspend(stepID string) error {
	if e.Status != ExecutionRunning {
		return errors.NewConflictError(fmt.Sprintf("cannot suspend execution in status %q", e.Status))
	}
	e.Status = ExecutionWaitingApproval
	e.WaitingOnStep = stepID
	e.CurrentStep = stepID
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume applies an approval decision to a suspended execution. An approval
// records a success result for the waiting step; a rejection cancels the
// execution.
func (e *WorkflowExecution) Resume(decision ApprovalDecision) error {
	if e.Status != ExecutionWaitingApproval {
		return errors.NewConflictError(fmt.Sprintf("cannot resume execution in status %q", e.Status))
	}
	now := time.Now().UTC()

	if !decision.Approved {
		e.StepResults[e.WaitingOnStep] = StepResult{
			StepID:      e.WaitingOnStep,
			Status:      StepFailed,
			Data:        map[string]interface{}{"approved": false, "approver": decision.Approver, "comments": decision.Comments},
			Attempts:    1,
			Error:       "approval rejected",
			StartedAt:   now,
			CompletedAt: now,
		}
		e.Status = ExecutionCancelled
		e.ErrorDetail = fmt.Sprintf("rejected by %s", decision.Approver)
		completed := now
		e.CompletedAt = &completed
		e.WaitingOnStep = ""
		e.UpdatedAt = now
		return nil
	}

	if _, exists := e.StepResults[e.WaitingOnStep]; !exists {
		e.StepResults[e.WaitingOnStep] = StepResult{
			StepID:      e.WaitingOnStep,
			Status:      StepSucceeded,
			Data:        map[string]interface{}{"approved": true, "approver": decision.Approver, "comments": decision.Comments},
			Attempts:    1,
			StartedAt:   now,
			CompletedAt: now,
		}
	}
	e.Status = ExecutionRunning
	e.WaitingOnStep = ""
	e.UpdatedAt = now
	return nil
}

// Complete transitions running → completed.
func (e *WorkflowExecution) Complete() error {
	if e.Status != ExecutionRunning {
		return errors.NewConflictError(fmt.Sprintf("cannot complete execution in status %q", e.Status))
	}
	now := time.Now().UTC()
	e.Status = ExecutionCompleted
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

// Fail transitions the execution to failed with diagnostic detail. No further
// steps run after a failure.
func (e *WorkflowExecution) Fail(detail string) error {
	if e.Status.Terminal() {
		return errors.NewConflictError(fmt.Sprintf("cannot fail execution in status %q", e.Status))
	}
	now := time.Now().UTC()
	e.Status = ExecutionFailed
	e.ErrorDetail = detail
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

// Cancel marks the execution cancelled. Terminal; the executor runs no
// further steps once it observes this state.
func (e *WorkflowExecution) Cancel(reason string) error {
	if e.Status.Terminal() {
		return errors.NewConflictError(fmt.Sprintf("cannot cancel execution in status %q", e.Status))
	}
	now := time.Now().UTC()
	e.Status = ExecutionCancelled
	e.ErrorDetail = reason
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}
