//go:build integration

package database_test

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/risk"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	"github.com/grcops/compliance-core/internal/infrastructure/database"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
	"github.com/grcops/compliance-core/internal/testutil/containers"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("starting postgres: %v", err)
	}

	dir, err := filepath.Abs("../../../migrations")
	if err != nil {
		log.Fatalf("resolving migrations dir: %v", err)
	}
	if err := pg.Migrate(dir); err != nil {
		log.Fatalf("migrating: %v", err)
	}

	pool, err = pgxpool.New(ctx, pg.ConnectionString)
	if err != nil {
		log.Fatalf("opening pool: %v", err)
	}

	code := m.Run()

	pool.Close()
	_ = pg.Terminate(ctx)
	os.Exit(code)
}

func saveDefinition(t *testing.T, repo *database.DefinitionRepository, trigger workflow.TriggerSpec) *workflow.WorkflowDefinition {
	t.Helper()
	def, err := workflow.NewDefinition("integration workflow", workflow.CategoryAssessment, workflow.AutomationFull,
		[]workflow.WorkflowStep{
			{ID: "test", Params: workflow.AutomatedTestParams{ControlID: "CC-1"}},
			{ID: "notify", Params: workflow.NotificationParams{Recipients: []string{"ops@example.com"}, Subject: "done"}, DependsOn: []string{"test"}},
		},
		trigger, workflow.ApprovalPolicy{ConfidenceThreshold: 0.7}, "tester")
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), def))
	return def
}

func TestDefinitionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := database.NewDefinitionRepository(pool)

	def := saveDefinition(t, repo, workflow.TriggerSpec{Type: workflow.TriggerEvent, Events: []string{"control.changed"}})

	got, err := repo.GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.Category, got.Category)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, workflow.StepAutomatedTest, got.Steps[0].Params.Kind())
	assert.Equal(t, []string{"test"}, got.Steps[1].DependsOn)
	assert.Equal(t, 0.7, got.Approval.ConfidenceThreshold)

	byEvent, err := repo.ListByEvent(ctx, "control.changed")
	require.NoError(t, err)
	require.NotEmpty(t, byEvent)

	none, err := repo.ListByEvent(ctx, "unrelated.event")
	require.NoError(t, err)
	assert.Empty(t, none)

	listed, err := repo.List(ctx, workflow.CategoryAssessment, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, listed)
}

func TestDefinitionRepository_ListScheduled(t *testing.T) {
	ctx := context.Background()
	repo := database.NewDefinitionRepository(pool)

	def := saveDefinition(t, repo, workflow.TriggerSpec{Type: workflow.TriggerSchedule, CronExpr: "0 6 * * 1"})

	scheduled, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	found := false
	for _, d := range scheduled {
		if d.ID == def.ID {
			found = true
			assert.Equal(t, "0 6 * * 1", d.Trigger.CronExpr)
		}
	}
	assert.True(t, found)
}

func TestExecutionRepository_UpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	defs := database.NewDefinitionRepository(pool)
	repo := database.NewExecutionRepository(pool)

	def := saveDefinition(t, defs, workflow.TriggerSpec{Type: workflow.TriggerManual})
	exec := workflow.NewExecution(def.ID, map[string]interface{}{"source": "integration"})
	require.NoError(t, repo.Save(ctx, exec))

	require.NoError(t, exec.Start())
	require.NoError(t, exec.RecordStepResult(workflow.StepResult{
		StepID: "test", Status: workflow.StepSucceeded, Attempts: 1, CompletedAt: time.Now().UTC(),
	}))
	require.NoError(t, exec.Complete())
	require.NoError(t, repo.Save(ctx, exec))

	got, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, got.Status)
	require.Contains(t, got.StepResults, "test")
	assert.Equal(t, workflow.StepSucceeded, got.StepResults["test"].Status)
	assert.Equal(t, "integration", got.TriggerPayload["source"])

	byStatus, err := repo.ListByStatus(ctx, workflow.ExecutionCompleted, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, byStatus)

	byDef, err := repo.ListByDefinition(ctx, def.ID, 10)
	require.NoError(t, err)
	require.Len(t, byDef, 1)
	assert.Equal(t, exec.ID, byDef[0].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	require.Error(t, err)
}

func TestExecutionRepository_TerminalStatusWins(t *testing.T) {
	ctx := context.Background()
	defs := database.NewDefinitionRepository(pool)
	repo := database.NewExecutionRepository(pool)

	def := saveDefinition(t, defs, workflow.TriggerSpec{Type: workflow.TriggerManual})
	exec := workflow.NewExecution(def.ID, nil)
	require.NoError(t, repo.Save(ctx, exec))
	require.NoError(t, exec.Start())
	require.NoError(t, repo.Save(ctx, exec))

	// Simulates a worker holding a stale running snapshot while a cancel
	// lands; the stale save must not flip the record back to running.
	stale, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)

	require.NoError(t, exec.Cancel("operator cancelled"))
	require.NoError(t, repo.Save(ctx, exec))

	err = repo.Save(ctx, stale)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", errors.Code(err))

	got, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCancelled, got.Status)
	assert.Equal(t, "operator cancelled", got.ErrorDetail)
}

func TestRuleRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := database.NewRuleRepository(pool)

	rule, err := monitoring.NewRule("progress watch", uuid.New(), []string{"CC-1", "CC-2"},
		monitoring.ThresholdConditions{Metric: "implementation_progress", Threshold: 70, Below: true},
		time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, rule))

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, []string{"CC-1", "CC-2"}, got.ControlIDs)
	assert.Equal(t, time.Minute, got.CheckFrequency)
	cond, ok := got.Conditions.(monitoring.ThresholdConditions)
	require.True(t, ok)
	assert.Equal(t, 70.0, cond.Threshold)
	assert.True(t, cond.Below)

	require.NoError(t, repo.SetActive(ctx, rule.ID, false))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	for _, r := range active {
		assert.NotEqual(t, rule.ID, r.ID)
	}
}

func TestAlertRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAlertRepository(pool)

	alert := monitoring.NewAlert(uuid.New(), monitoring.RuleThreshold, monitoring.SeverityHigh,
		"Implementation progress below threshold", "progress dropped to 42",
		map[string]interface{}{"progress": 42.0}, []string{"CC-1"})
	require.NoError(t, repo.Save(ctx, alert))

	require.NoError(t, alert.Transition(monitoring.AlertAcknowledged))
	require.NoError(t, repo.Update(ctx, alert))

	got, err := repo.GetByID(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, monitoring.AlertAcknowledged, got.Status)
	assert.NotNil(t, got.AcknowledgedAt)
	assert.Equal(t, []string{"CC-1"}, got.ControlIDs)
	assert.Equal(t, alert.Fingerprint(), got.Fingerprint())

	recent, err := repo.ListRecent(ctx, monitoring.AlertFilters{Severity: monitoring.SeverityHigh, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, recent)

	counts, err := repo.CountBySeverity(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[monitoring.SeverityHigh], 1)
}

func TestAutomationRepository_StatsAndActivation(t *testing.T) {
	ctx := context.Background()
	repo := database.NewAutomationRepository(pool)

	rule, err := automation.NewRule("CC-7", automation.RuleTesting, "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, rule))

	now := time.Now().UTC()
	next := now.Add(24 * time.Hour)
	rule.SuccessCount = 3
	rule.FailureCount = 1
	rule.ConsecutiveFailures = 0
	rule.LastExecuted = &now
	rule.NextExecution = &next
	require.NoError(t, repo.UpdateStats(ctx, rule))

	got, err := repo.GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	require.NotNil(t, got.LastExecuted)
	assert.WithinDuration(t, now, *got.LastExecuted, time.Second)

	require.NoError(t, repo.SetActive(ctx, rule.ID, false))
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	for _, r := range active {
		assert.NotEqual(t, rule.ID, r.ID)
	}
}

func TestRiskRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := database.NewRiskRepository(pool)

	rec, err := risk.NewRisk("data exfiltration", 4, 3)
	require.NoError(t, err)
	require.NoError(t, repo.SaveRisk(ctx, rec))

	got, err := repo.GetRisk(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)

	sig := &risk.ThreatSignal{ID: uuid.New(), RiskID: rec.ID, Indicator: "c2 beacon", Severity: risk.LevelHigh, ObservedAt: time.Now().UTC()}
	require.NoError(t, repo.SaveThreatSignal(ctx, sig))
	signals, err := repo.ListThreatSignals(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, risk.LevelHigh, signals[0].Severity)

	m, err := risk.NewControlMapping(rec.ID, "CC-6.1", risk.MappingPrevents, 4, 90, 0.95, risk.SourceHuman)
	require.NoError(t, err)
	require.NoError(t, repo.SaveMapping(ctx, m))
	mappings, err := repo.ListMappings(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "CC-6.1", mappings[0].ControlID)

	_, err = pool.Exec(ctx, `
		INSERT INTO controls (control_id, framework_id, implementation_status)
		VALUES ('CC-6.1', $1, 'implemented')
		ON CONFLICT (control_id) DO UPDATE SET implementation_status = EXCLUDED.implementation_status`,
		uuid.New())
	require.NoError(t, err)
	statuses, err := repo.ControlStatuses(ctx, []string{"CC-6.1", "CC-missing"})
	require.NoError(t, err)
	assert.Equal(t, risk.ImplementationDone, statuses["CC-6.1"])
	_, seen := statuses["CC-missing"]
	assert.False(t, seen)

	a := &risk.IntegratedAssessment{
		ID: uuid.New(), RiskID: rec.ID,
		BaseScore: 12, ThreatScore: 30, ControlEffectiveness: 80, ComplianceScore: 100,
		IntegratedScore: 35.5, RiskLevel: risk.LevelMedium, PriorityScore: 34,
		RecommendedActions: []string{"review mapping coverage"},
		AssessedAt:         time.Now().UTC(),
	}
	require.NoError(t, repo.SaveAssessment(ctx, a))
	history, err := repo.ListAssessments(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 35.5, history[0].IntegratedScore)
	assert.Equal(t, []string{"review mapping coverage"}, history[0].RecommendedActions)
}

func TestMetricStore_ChecksAndEvidence(t *testing.T) {
	ctx := context.Background()
	store := database.NewMetricStore(pool)

	frameworkID := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO controls (control_id, framework_id, risk_level, implementation_status, implementation_progress)
		VALUES ('CC-3.2', $1, 'high', 'implemented', 65)`, frameworkID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO control_checks (check_id, control_id, suite, name, expected) VALUES
		('chk-enc', 'CC-3.2', 'crypto', 'encryption at rest', '{"enabled": true}'),
		('chk-rot', 'CC-3.2', 'crypto', 'key rotation', '{"days": 90}')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO check_observations (check_id, observed) VALUES
		('chk-enc', '{"enabled": true}'),
		('chk-rot', '{"days": 365}')`)
	require.NoError(t, err)

	results, err := store.EvaluateChecks(ctx, "CC-3.2", "crypto")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed, "matching observation passes")
	assert.False(t, results[1].Passed, "stale rotation fails")
	assert.Contains(t, results[1].Detail, "expected")

	require.NoError(t, store.AppendTestResults(ctx, "CC-3.2", results))

	snapshot, err := store.Snapshot(ctx, []string{"CC-3.2"}, frameworkID)
	require.NoError(t, err)
	m, ok := snapshot.Controls["CC-3.2"]
	require.True(t, ok)
	assert.Equal(t, 65.0, m.ImplementationProgress)
	assert.Equal(t, 1, m.RecentFailures)
	require.NotEmpty(t, m.DailyPassRates)
	assert.Equal(t, 0.5, m.DailyPassRates[len(m.DailyPassRates)-1].PassRate)
	fm, ok := snapshot.Frameworks[frameworkID]
	require.True(t, ok)
	assert.Equal(t, 1, fm.TotalControls)
	assert.Equal(t, 1, fm.ImplementedControls)

	_, err = pool.Exec(ctx, `
		INSERT INTO evidence_sources (id, control_id, source, description, data) VALUES
		('src-1', 'CC-3.2', 'aws-config', 'bucket encryption report', '{"buckets": 12}')`)
	require.NoError(t, err)
	evidence, err := store.CollectEvidence(ctx, "CC-3.2", []string{"aws-config"})
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, "aws-config", evidence[0].Source)

	require.NoError(t, store.AppendEvidence(ctx, []workflowsvc.EvidenceRecord{{
		ID: "col-1", ControlID: "CC-3.2", Source: "aws-config", Description: "archived", CollectedAt: time.Now().UTC(),
	}}))
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM collected_evidence WHERE control_id = 'CC-3.2'`).Scan(&n))
	assert.Equal(t, 1, n)
}
