package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	"github.com/grcops/compliance-core/internal/service/orchestrator"
	"github.com/grcops/compliance-core/internal/testutil"
)

// The orchestrator is what main wires in as the sink.
var _ TriggerSink = (*orchestrator.Service)(nil)

type firing struct {
	id      uuid.UUID
	payload map[string]interface{}
}

type fakeSink struct {
	mu      sync.Mutex
	firings []firing
}

func (s *fakeSink) Fire(_ context.Context, id uuid.UUID, payload map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firings = append(s.firings, firing{id: id, payload: payload})
	return nil
}

func (s *fakeSink) fired() []firing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]firing(nil), s.firings...)
}

func schedulerFixture(t *testing.T) (*Scheduler, *testutil.MemoryDefinitionRepo, *testutil.MemoryAutomationRepo, *fakeSink) {
	t.Helper()
	defs := testutil.NewMemoryDefinitionRepo()
	rules := testutil.NewMemoryAutomationRepo()
	sink := &fakeSink{}
	return New(defs, rules, sink, zaptest.NewLogger(t)), defs, rules, sink
}

func eventDefinition(t *testing.T, events ...string) *workflow.WorkflowDefinition {
	t.Helper()
	def, err := workflow.NewDefinition("event workflow", workflow.CategoryMonitoring, workflow.AutomationFull,
		[]workflow.WorkflowStep{testutil.TestStep("test", "CC-1")},
		workflow.TriggerSpec{Type: workflow.TriggerEvent, Events: events},
		workflow.ApprovalPolicy{}, "tester")
	require.NoError(t, err)
	return def
}

func TestStart_RegistersSchedules(t *testing.T) {
	ctx := context.Background()
	sched, defs, rules, _ := schedulerFixture(t)

	def, err := workflow.NewDefinition("weekly review", workflow.CategoryAssessment, workflow.AutomationFull,
		[]workflow.WorkflowStep{testutil.TestStep("test", "CC-1")},
		workflow.TriggerSpec{Type: workflow.TriggerSchedule, CronExpr: "0 6 * * 1"},
		workflow.ApprovalPolicy{}, "tester")
	require.NoError(t, err)
	require.NoError(t, defs.Save(ctx, def))

	rule, err := automation.NewRule("CC-2", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, rules.Save(ctx, rule))

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	assert.Len(t, sched.cron.Entries(), 2)
}

func TestStart_RejectsUnparseableSchedule(t *testing.T) {
	ctx := context.Background()
	sched, defs, _, _ := schedulerFixture(t)

	def, err := workflow.NewDefinition("broken schedule", workflow.CategoryAssessment, workflow.AutomationFull,
		[]workflow.WorkflowStep{testutil.TestStep("test", "CC-1")},
		workflow.TriggerSpec{Type: workflow.TriggerSchedule, CronExpr: "whenever"},
		workflow.ApprovalPolicy{}, "tester")
	require.NoError(t, err)
	require.NoError(t, defs.Save(ctx, def))

	require.Error(t, sched.Start(ctx))
}

func TestDispatch_FiresSubscribedWorkflows(t *testing.T) {
	ctx := context.Background()
	sched, defs, _, sink := schedulerFixture(t)

	subscribed := eventDefinition(t, "control.updated")
	other := eventDefinition(t, "framework.changed")
	require.NoError(t, defs.Save(ctx, subscribed))
	require.NoError(t, defs.Save(ctx, other))

	require.NoError(t, sched.Dispatch(ctx, "control.updated", map[string]interface{}{"control_id": "CC-1"}))

	fired := sink.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, subscribed.ID, fired[0].id)
	assert.Equal(t, "event", fired[0].payload["source"])
	assert.Equal(t, "control.updated", fired[0].payload["event"])
	assert.Equal(t, "CC-1", fired[0].payload["control_id"])
}

func TestDispatch_NoSubscribers(t *testing.T) {
	sched, _, _, sink := schedulerFixture(t)

	require.NoError(t, sched.Dispatch(context.Background(), "nobody.listens", nil))
	assert.Empty(t, sink.fired())
}
