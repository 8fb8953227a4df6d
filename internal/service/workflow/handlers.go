package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// ErrApprovalRequired is the sentinel a handler returns when the step needs a
// human decision. Not a failure: the executor suspends the execution instead
// of retrying.
var ErrApprovalRequired = errors.NewBusinessError("APPROVAL_REQUIRED", "step requires a human decision")

// DefaultHandlers wires the built-in handler set for all six step kinds.
func DefaultHandlers(store ControlStore, oracle AssessmentOracle, notifier Notifier, logger *zap.Logger) map[workflow.StepKind]StepHandler {
	handlers := []StepHandler{
		&AutomatedTestHandler{store: store},
		&EvidenceCollectionHandler{store: store},
		&AssessmentHandler{oracle: oracle},
		&HumanReviewHandler{notifier: notifier, logger: logger},
		&ApprovalHandler{},
		&NotificationHandler{notifier: notifier, logger: logger},
	}
	byKind := make(map[workflow.StepKind]StepHandler, len(handlers))
	for _, h := range handlers {
		byKind[h.Kind()] = h
	}
	return byKind
}

// AutomatedTestHandler evaluates a control's registered automated checks and
// appends the outcomes to the metric store. Confidence is the pass rate.
type AutomatedTestHandler struct {
	store ControlStore
}

func (h *AutomatedTestHandler) Kind() workflow.StepKind { return workflow.StepAutomatedTest }

func (h *AutomatedTestHandler) Execute(ctx context.Context, step workflow.WorkflowStep, _ *workflow.WorkflowExecution) (workflow.StepResult, error) {
	params := step.Params.(workflow.AutomatedTestParams)

	results, err := h.store.EvaluateChecks(ctx, params.ControlID, params.TestSuite)
	if err != nil {
		return workflow.StepResult{}, errors.NewStepExecutionError(step.ID, "automated test run failed").WithCause(err)
	}
	if err := h.store.AppendTestResults(ctx, params.ControlID, results); err != nil {
		return workflow.StepResult{}, errors.NewStepExecutionError(step.ID, "failed to record test results").WithCause(err)
	}

	passed, failed := 0, 0
	var failures []string
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
			failures = append(failures, r.Name)
		}
	}

	confidence := 1.0
	if total := passed + failed; total > 0 {
		confidence = float64(passed) / float64(total)
	}

	return workflow.StepResult{
		Status: workflow.StepSucceeded,
		Data: map[string]interface{}{
			"control_id":   params.ControlID,
			"tests_passed": passed,
			"tests_failed": failed,
			"failures":     failures,
		},
		Confidence: &confidence,
	}, nil
}

// EvidenceCollectionHandler pulls evidence from the configured sources and
// appends the records to the store.
type EvidenceCollectionHandler struct {
	store ControlStore
}

func (h *EvidenceCollectionHandler) Kind() workflow.StepKind { return workflow.StepEvidenceCollection }

func (h *EvidenceCollectionHandler) Execute(ctx context.Context, step workflow.WorkflowStep, _ *workflow.WorkflowExecution) (workflow.StepResult, error) {
	params := step.Params.(workflow.EvidenceCollectionParams)

	records, err := h.store.CollectEvidence(ctx, params.ControlID, params.Sources)
	if err != nil {
		return workflow.StepResult{}, errors.NewStepExecutionError(step.ID, "evidence collection failed").WithCause(err)
	}
	if err := h.store.AppendEvidence(ctx, records); err != nil {
		return workflow.StepResult{}, errors.NewStepExecutionError(step.ID, "failed to record evidence").WithCause(err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return workflow.StepResult{
		Status: workflow.StepSucceeded,
		Data: map[string]interface{}{
			"control_id": params.ControlID,
			"evidence":   ids,
			"sources":    params.Sources,
			"collected":  len(records),
		},
	}, nil
}

// AssessmentHandler asks the oracle to evaluate the target. An oracle failure
// or timeout surfaces as a retryable step failure, never as a silent success.
type AssessmentHandler struct {
	oracle AssessmentOracle
}

func (h *AssessmentHandler) Kind() workflow.StepKind { return workflow.StepAIAssessment }

func (h *AssessmentHandler) Execute(ctx context.Context, step workflow.WorkflowStep, _ *workflow.WorkflowExecution) (workflow.StepResult, error) {
	params := step.Params.(workflow.AIAssessmentParams)

	assessment, err := h.oracle.Assess(ctx, AssessmentRequest{
		TargetType: params.TargetType,
		TargetID:   params.TargetID,
		Focus:      params.Focus,
	})
	if err != nil {
		return workflow.StepResult{}, errors.NewOracleUnavailableError(
			fmt.Sprintf("assessment of %s %s failed", params.TargetType, params.TargetID)).WithCause(err)
	}

	confidence := assessment.ConfidenceScore
	return workflow.StepResult{
		Status: workflow.StepSucceeded,
		Data: map[string]interface{}{
			"target_type":      params.TargetType,
			"target_id":        params.TargetID,
			"gaps":             assessment.Gaps,
			"recommendations":  assessment.Recommendations,
			"estimated_effort": assessment.EstimatedEffort,
		},
		Confidence: &confidence,
	}, nil
}

// HumanReviewHandler notifies the reviewers and suspends the execution until
// one of them decides.
type HumanReviewHandler struct {
	notifier Notifier
	logger   *zap.Logger
}

func (h *HumanReviewHandler) Kind() workflow.StepKind { return workflow.StepHumanReview }

func (h *HumanReviewHandler) Execute(ctx context.Context, step workflow.WorkflowStep, exec *workflow.WorkflowExecution) (workflow.StepResult, error) {
	params := step.Params.(workflow.HumanReviewParams)

	subject := fmt.Sprintf("Review requested: execution %s, step %s", exec.ID, step.ID)
	if err := h.notifier.Send(ctx, params.Reviewers, subject, params.Instructions); err != nil {
		h.logger.Warn("review notification failed",
			zap.String("execution_id", exec.ID.String()),
			zap.String("step_id", step.ID),
			zap.Error(err))
	}
	return workflow.StepResult{}, ErrApprovalRequired
}

// ApprovalHandler is an explicit human gate; it always suspends.
type ApprovalHandler struct{}

func (h *ApprovalHandler) Kind() workflow.StepKind { return workflow.StepApproval }

func (h *ApprovalHandler) Execute(_ context.Context, _ workflow.WorkflowStep, _ *workflow.WorkflowExecution) (workflow.StepResult, error) {
	return workflow.StepResult{}, ErrApprovalRequired
}

// NotificationHandler sends a message over the notification channel. A
// delivery failure is logged and the step still succeeds: the channel is
// fire-and-forget from the core's perspective.
type NotificationHandler struct {
	notifier Notifier
	logger   *zap.Logger
}

func (h *NotificationHandler) Kind() workflow.StepKind { return workflow.StepNotification }

func (h *NotificationHandler) Execute(ctx context.Context, step workflow.WorkflowStep, exec *workflow.WorkflowExecution) (workflow.StepResult, error) {
	params := step.Params.(workflow.NotificationParams)

	body := params.Body
	if body == "" {
		body = summarizeResults(exec)
	}

	delivered := true
	if err := h.notifier.Send(ctx, params.Recipients, params.Subject, body); err != nil {
		delivered = false
		h.logger.Warn("notification delivery failed",
			zap.String("execution_id", exec.ID.String()),
			zap.String("step_id", step.ID),
			zap.Error(err))
	}

	return workflow.StepResult{
		Status: workflow.StepSucceeded,
		Data: map[string]interface{}{
			"recipients": params.Recipients,
			"subject":    params.Subject,
			"delivered":  delivered,
		},
	}, nil
}

func summarizeResults(exec *workflow.WorkflowExecution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow execution %s\n", exec.ID)
	for stepID, res := range exec.StepResults {
		fmt.Fprintf(&b, "- %s: %s", stepID, res.Status)
		if res.Error != "" {
			fmt.Fprintf(&b, " (%s)", res.Error)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "started %s", exec.StartedAt.Format(time.RFC3339))
	return b.String()
}
