package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

func newTestRegistry(t *testing.T) (*Registry, *stubDefRepo) {
	t.Helper()
	repo := newStubDefRepo()
	return NewRegistry(repo, zaptest.NewLogger(t)), repo
}

func validDefinition(t *testing.T, trigger workflow.TriggerSpec) *workflow.WorkflowDefinition {
	t.Helper()
	def, err := workflow.NewDefinition("registry test", workflow.CategoryMonitoring, workflow.AutomationFull,
		[]workflow.WorkflowStep{autoStep("check")}, trigger, workflow.ApprovalPolicy{}, "tester")
	require.NoError(t, err)
	return def
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	registry, repo := newTestRegistry(t)

	def := validDefinition(t, workflow.TriggerSpec{Type: workflow.TriggerManual})
	require.NoError(t, registry.Register(ctx, def))

	stored, err := registry.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, stored.Name)
	assert.Len(t, repo.defs, 1)
}

func TestRegistry_RejectsCyclicDefinition(t *testing.T) {
	ctx := context.Background()
	registry, repo := newTestRegistry(t)

	def := validDefinition(t, workflow.TriggerSpec{Type: workflow.TriggerManual})
	def.Steps = []workflow.WorkflowStep{autoStep("a", "b"), autoStep("b", "a")}

	err := registry.Register(ctx, def)
	require.Error(t, err)
	assert.Equal(t, "CYCLIC_DEPENDENCY", errors.Code(err))
	// Nothing persisted for a rejected definition.
	assert.Empty(t, repo.defs)
}

func TestRegistry_ValidatesCronExpression(t *testing.T) {
	ctx := context.Background()
	registry, repo := newTestRegistry(t)

	def := validDefinition(t, workflow.TriggerSpec{Type: workflow.TriggerSchedule, CronExpr: "0 6 * * 1"})
	require.NoError(t, registry.Register(ctx, def))

	bad := validDefinition(t, workflow.TriggerSpec{Type: workflow.TriggerSchedule, CronExpr: "not a cron"})
	err := registry.Register(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, "INVALID_SCHEDULE", errors.Code(err))
	assert.Len(t, repo.defs, 1)
}

func TestRegistry_RegisterVersion(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	def := validDefinition(t, workflow.TriggerSpec{Type: workflow.TriggerManual})
	require.NoError(t, registry.Register(ctx, def))

	next, err := registry.RegisterVersion(ctx, def.ID,
		[]workflow.WorkflowStep{autoStep("check"), autoStep("notify", "check")},
		workflow.TriggerSpec{Type: workflow.TriggerManual}, workflow.ApprovalPolicy{ConfidenceThreshold: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)
	require.NotNil(t, next.SupersedesID)
	assert.Equal(t, def.ID, *next.SupersedesID)

	// Both versions remain addressable.
	prior, err := registry.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prior.Version)
	assert.Len(t, prior.Steps, 1)
}
