package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/risk"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	automationsvc "github.com/grcops/compliance-core/internal/service/automation"
	monitoringsvc "github.com/grcops/compliance-core/internal/service/monitoring"
	risksvc "github.com/grcops/compliance-core/internal/service/risk"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
	"github.com/grcops/compliance-core/internal/testutil"
)

// stubCache is an in-memory DashboardCache.
type stubCache struct {
	mu   sync.Mutex
	d    *Dashboard
	sets int
}

func (c *stubCache) GetDashboard(context.Context) (*Dashboard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d == nil {
		return nil, false
	}
	return c.d, true
}

func (c *stubCache) SetDashboard(_ context.Context, d *Dashboard, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.d = d
	c.sets++
}

type orchestratorFixture struct {
	orch     *Service
	registry *workflowsvc.Registry
	executor *workflowsvc.Executor
	autoRepo *testutil.MemoryAutomationRepo
	riskRepo *testutil.MemoryRiskRepo
	store    *testutil.FakeControlStore
	cache    *stubCache
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	defRepo := testutil.NewMemoryDefinitionRepo()
	execRepo := testutil.NewMemoryExecutionRepo()
	ruleRepo := testutil.NewMemoryRuleRepo()
	alertRepo := testutil.NewMemoryAlertRepo()
	autoRepo := testutil.NewMemoryAutomationRepo()
	riskRepo := testutil.NewMemoryRiskRepo()
	store := testutil.NewFakeControlStore()

	registry := workflowsvc.NewRegistry(defRepo, logger)
	handlers := workflowsvc.DefaultHandlers(store, &testutil.FakeOracle{Assessment: workflowsvc.Assessment{ConfidenceScore: 0.9}}, &testutil.FakeNotifier{}, logger)
	executor := workflowsvc.NewExecutor(registry, execRepo, handlers, nil, logger, workflowsvc.DefaultExecutorConfig())

	alertManager := monitoringsvc.NewAlertManager(alertRepo, nil, logger)
	monitor := monitoringsvc.NewMonitorService(ruleRepo, &testutil.FakeMetricStore{}, monitoringsvc.NewEvaluator(monitoringsvc.DefaultEvaluatorConfig()), alertManager, nil, logger)
	runner := automationsvc.NewRunner(autoRepo, handlers, alertManager, nil, logger, automationsvc.DefaultRunnerConfig())
	riskService := risksvc.NewService(riskRepo, risksvc.NewScorer(), logger)

	cache := &stubCache{}
	orch := NewService(registry, executor, runner, monitor, alertManager, riskService, riskRepo, cache, logger, Config{DashboardTTL: time.Minute})
	return &orchestratorFixture{
		orch:     orch,
		registry: registry,
		executor: executor,
		autoRepo: autoRepo,
		riskRepo: riskRepo,
		store:    store,
		cache:    cache,
	}
}

func registerWorkflow(t *testing.T, f *orchestratorFixture) *workflow.WorkflowDefinition {
	t.Helper()
	def, err := workflow.NewDefinition("assessment run", workflow.CategoryAssessment, workflow.AutomationFull,
		[]workflow.WorkflowStep{{ID: "test", Params: workflow.AutomatedTestParams{ControlID: "CC-1"}}},
		workflow.TriggerSpec{Type: workflow.TriggerManual}, workflow.ApprovalPolicy{}, "tester")
	require.NoError(t, err)
	require.NoError(t, f.registry.Register(context.Background(), def))
	return def
}

func TestOnTrigger_ResolvesWorkflowFirst(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	def := registerWorkflow(t, f)

	outcome, err := f.orch.OnTrigger(ctx, def.ID, map[string]interface{}{"source": "manual"})
	require.NoError(t, err)
	assert.Equal(t, "workflow", outcome.Kind)
	require.NotNil(t, outcome.ExecutionID)
	f.executor.Drain()

	exec, err := f.orch.ExecutionStatus(ctx, *outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)
}

func TestOnTrigger_FallsBackToAutomationRule(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	rule, err := automation.NewRule("CC-1", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, f.autoRepo.Save(ctx, rule))

	outcome, err := f.orch.OnTrigger(ctx, rule.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "automation_rule", outcome.Kind)
	assert.Nil(t, outcome.ExecutionID)
	result, ok := outcome.RuleResult.(*automation.ExecutionResult)
	require.True(t, ok)
	assert.True(t, result.Success)
}

func TestOnTrigger_UnknownTarget(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.OnTrigger(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errors.Code(err))
	assert.Contains(t, err.Error(), "trigger target")
}

func TestDecide_RequiresApprover(t *testing.T) {
	f := newOrchestratorFixture(t)
	err := f.orch.Decide(context.Background(), uuid.New(), workflow.ApprovalDecision{Approved: true})
	require.Error(t, err)
	assert.Equal(t, "MISSING_APPROVER", errors.Code(err))
}

func TestDashboard_AggregatesAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	r1, err := f.orch.CreateRisk(ctx, "low risk", 1, 1)
	require.NoError(t, err)
	_, err = f.orch.CreateRisk(ctx, "severe risk", 5, 5)
	require.NoError(t, err)

	m, err := risk.NewControlMapping(r1.ID, "CC-1", risk.MappingMitigates, 4, 80, 0.9, risk.SourceHuman)
	require.NoError(t, err)
	require.NoError(t, f.riskRepo.SaveMapping(ctx, m))

	d, err := f.orch.Dashboard(ctx)
	require.NoError(t, err)

	total := 0
	for _, n := range d.RisksByLevel {
		total += n
	}
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, d.MappedControls)
	assert.Greater(t, d.AveragePriority, 0.0)
	require.NotNil(t, d.Alerts)
	assert.Equal(t, 1, f.cache.sets)

	// Second call is served from cache.
	again, err := f.orch.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.GeneratedAt, again.GeneratedAt)
	assert.Equal(t, 1, f.cache.sets)
}

func TestTransitionAlert(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	// Route a failing automation run through the orchestrator to raise alerts.
	rule, err := automation.NewRule("CC-9", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, f.autoRepo.Save(ctx, rule))
	f.store.Checks["CC-9"] = []workflowsvc.CheckResult{{CheckID: "c1", Name: "fails", Passed: false}}

	_, err = f.orch.OnTrigger(ctx, rule.ID, nil)
	require.NoError(t, err)

	alerts, err := f.orch.Alerts(ctx, monitoring.AlertFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	updated, err := f.orch.TransitionAlert(ctx, alerts[0].ID, monitoring.AlertAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, monitoring.AlertAcknowledged, updated.Status)
}
