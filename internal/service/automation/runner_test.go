package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	monitoringsvc "github.com/grcops/compliance-core/internal/service/monitoring"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
	"github.com/grcops/compliance-core/internal/testutil"
)

type runnerFixture struct {
	runner *Runner
	rules  *testutil.MemoryAutomationRepo
	store  *testutil.FakeControlStore
	alerts *testutil.MemoryAlertRepo
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rules := testutil.NewMemoryAutomationRepo()
	store := testutil.NewFakeControlStore()
	alerts := testutil.NewMemoryAlertRepo()
	handlers := workflowsvc.DefaultHandlers(store, &testutil.FakeOracle{}, &testutil.FakeNotifier{}, logger)
	manager := monitoringsvc.NewAlertManager(alerts, nil, logger)
	runner := NewRunner(rules, handlers, manager, nil, logger, DefaultRunnerConfig())
	return &runnerFixture{runner: runner, rules: rules, store: store, alerts: alerts}
}

func seedRule(t *testing.T, f *runnerFixture, ruleType automation.RuleType) *automation.AutomationRule {
	t.Helper()
	rule, err := automation.NewRule("CC-1", ruleType, "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, f.rules.Save(context.Background(), rule))
	return rule
}

func TestExecuteRule_AllChecksPassing(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	rule := seedRule(t, f, automation.RuleTesting)
	f.store.Checks["CC-1"] = []workflowsvc.CheckResult{
		{CheckID: "c1", Name: "a", Passed: true},
		{CheckID: "c2", Name: "b", Passed: true},
	}

	result, err := f.runner.ExecuteRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 100.0, result.ComplianceScore)
	assert.Equal(t, 2, result.TestsPassed)
	assert.Zero(t, result.TestsFailed)
	assert.Empty(t, result.Findings)

	stored, err := f.rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SuccessCount)
	assert.Zero(t, stored.ConsecutiveFailures)
	require.NotNil(t, stored.LastExecuted)
	require.NotNil(t, stored.NextExecution)
}

func TestExecuteRule_FailingChecksRaiseFindings(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	rule := seedRule(t, f, automation.RuleTesting)
	f.store.Checks["CC-1"] = []workflowsvc.CheckResult{
		{CheckID: "c1", Name: "passing check", Passed: true},
		{CheckID: "c2", Name: "mfa enforced", Passed: false},
		{CheckID: "c3", Name: "session timeout", Passed: false},
		{CheckID: "c4", Name: "another pass", Passed: true},
	}

	result, err := f.runner.ExecuteRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, result.Success, "score 50 is below the 80 target")
	assert.Equal(t, 50.0, result.ComplianceScore)
	// One finding per failed check, plus the below-target finding.
	assert.Len(t, result.Findings, 3)

	stored, err := f.rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailureCount)
	assert.Equal(t, 1, stored.ConsecutiveFailures)

	// Findings flow into the alert intake path.
	alerts, err := f.alerts.ListRecent(ctx, monitoring.AlertFilters{})
	require.NoError(t, err)
	assert.Len(t, alerts, 3)
	for _, a := range alerts {
		assert.Equal(t, []string{"CC-1"}, a.ControlIDs)
		assert.Equal(t, rule.ID, a.RuleID)
	}
}

func TestExecuteRule_EvidenceRuleScoresFullWithNoTests(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	rule := seedRule(t, f, automation.RuleEvidenceCollection)
	f.store.Evidence["CC-1"] = []workflowsvc.EvidenceRecord{
		{ID: "ev-1", ControlID: "CC-1", Source: "primary"},
	}

	result, err := f.runner.ExecuteRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 100.0, result.ComplianceScore)
	assert.Equal(t, []string{"ev-1"}, result.EvidenceCollected)
}

func TestExecuteRule_HandlerFailureIsRuleFailure(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	rule := seedRule(t, f, automation.RuleTesting)
	f.store.ChecksErr = errors.NewInternalError("store down")

	result, err := f.runner.ExecuteRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, monitoring.SeverityHigh, result.Findings[0].Severity)

	stored, err := f.rules.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailureCount)
}

func TestExecuteRule_InactiveRule(t *testing.T) {
	ctx := context.Background()
	f := newRunnerFixture(t)
	rule := seedRule(t, f, automation.RuleTesting)
	require.NoError(t, f.rules.SetActive(ctx, rule.ID, false))

	_, err := f.runner.ExecuteRule(ctx, rule.ID)
	require.Error(t, err)
	assert.Equal(t, "RULE_INACTIVE", errors.Code(err))
}

func TestExecuteRule_UnknownRule(t *testing.T) {
	f := newRunnerFixture(t)
	_, err := f.runner.ExecuteRule(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errors.Code(err))
}

func TestComplianceScore(t *testing.T) {
	assert.Equal(t, 100.0, complianceScore(0, 0))
	assert.Equal(t, 100.0, complianceScore(5, 0))
	assert.Equal(t, 75.0, complianceScore(3, 1))
	assert.Equal(t, 0.0, complianceScore(0, 4))
}

func TestNextExecution_AdaptiveBackoff(t *testing.T) {
	f := newRunnerFixture(t)
	rule, err := automation.NewRule("CC-1", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)

	now := time.Now().UTC()
	schedule, err := cronParser.Parse(rule.Schedule)
	require.NoError(t, err)
	base := schedule.Next(now)
	interval := schedule.Next(base).Sub(base)

	tests := []struct {
		name     string
		failures int
		want     time.Time
	}{
		{"no failures keeps cadence", 0, base},
		{"two failures keep cadence", 2, base},
		{"three failures double the interval", 3, base.Add(interval)},
		{"four failures quadruple it", 4, base.Add(3 * interval)},
		{"backoff factor is capped", 10, base.Add(7 * interval)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule.ConsecutiveFailures = tt.failures
			next := f.runner.nextExecution(rule, now)
			require.NotNil(t, next)
			assert.Equal(t, tt.want, *next)
		})
	}
}

func TestNextExecution_UnparseableSchedule(t *testing.T) {
	f := newRunnerFixture(t)
	rule, err := automation.NewRule("CC-1", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)
	rule.Schedule = "every so often"

	assert.Nil(t, f.runner.nextExecution(rule, time.Now().UTC()))
}
