package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successResult(stepID string) StepResult {
	return StepResult{StepID: stepID, Status: StepSucceeded, Attempts: 1}
}

func TestExecutionLifecycle(t *testing.T) {
	exec := NewExecution(uuid.New(), map[string]interface{}{"source": "manual"})
	assert.Equal(t, ExecutionPending, exec.Status)

	require.NoError(t, exec.Start())
	assert.Equal(t, ExecutionRunning, exec.Status)

	// Starting twice conflicts.
	require.Error(t, exec.Start())

	require.NoError(t, exec.RecordStepResult(successResult("a")))
	require.NoError(t, exec.Complete())
	assert.Equal(t, ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)

	// Terminal states accept no further mutation.
	require.Error(t, exec.RecordStepResult(successResult("b")))
	require.Error(t, exec.Fail("late"))
	require.Error(t, exec.Cancel("late"))
}

func TestRecordStepResult_WrittenExactlyOnce(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.NoError(t, exec.Start())

	require.NoError(t, exec.RecordStepResult(successResult("a")))
	err := exec.RecordStepResult(successResult("a"))
	require.Error(t, err)
	assert.True(t, exec.Executed("a"))
	assert.False(t, exec.Executed("b"))
}

func TestDependenciesMet(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.NoError(t, exec.Start())

	step := WorkflowStep{ID: "c", Params: AutomatedTestParams{ControlID: "CC-1"}, DependsOn: []string{"a", "b"}}

	assert.False(t, exec.DependenciesMet(step), "no results yet")

	require.NoError(t, exec.RecordStepResult(successResult("a")))
	assert.False(t, exec.DependenciesMet(step), "one dependency missing")

	require.NoError(t, exec.RecordStepResult(StepResult{StepID: "b", Status: StepFailed, Attempts: 1}))
	assert.False(t, exec.DependenciesMet(step), "failed dependency does not count")
}

func TestSuspendAndResume_Approved(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.NoError(t, exec.Start())
	require.NoError(t, exec.Suspend("review"))

	assert.Equal(t, ExecutionWaitingApproval, exec.Status)
	assert.Equal(t, "review", exec.WaitingOnStep)

	require.NoError(t, exec.Resume(ApprovalDecision{Approved: true, Approver: "alice"}))
	assert.Equal(t, ExecutionRunning, exec.Status)
	assert.Empty(t, exec.WaitingOnStep)

	res, ok := exec.StepResults["review"]
	require.True(t, ok, "approval records a result for the waiting step")
	assert.Equal(t, StepSucceeded, res.Status)
	assert.Equal(t, "alice", res.Data["approver"])
}

func TestSuspendAndResume_Rejected(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.NoError(t, exec.Start())
	require.NoError(t, exec.Suspend("gate"))

	require.NoError(t, exec.Resume(ApprovalDecision{Approved: false, Approver: "bob", Comments: "not ready"}))
	assert.Equal(t, ExecutionCancelled, exec.Status)
	assert.Contains(t, exec.ErrorDetail, "bob")
	require.NotNil(t, exec.CompletedAt)

	res := exec.StepResults["gate"]
	assert.Equal(t, StepFailed, res.Status)
}

func TestResume_RequiresSuspendedState(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.NoError(t, exec.Start())
	require.Error(t, exec.Resume(ApprovalDecision{Approved: true, Approver: "alice"}))
}

func TestSuspend_RequiresRunningState(t *testing.T) {
	exec := NewExecution(uuid.New(), nil)
	require.Error(t, exec.Suspend("gate"))
}
