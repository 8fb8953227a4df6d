package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/risk"
	"github.com/grcops/compliance-core/internal/testutil"
)

func serviceFixture(t *testing.T) (*Service, *testutil.MemoryRiskRepo) {
	t.Helper()
	repo := testutil.NewMemoryRiskRepo()
	return NewService(repo, NewScorer(), zaptest.NewLogger(t)), repo
}

func TestCreateRisk(t *testing.T) {
	ctx := context.Background()
	service, repo := serviceFixture(t)

	r, err := service.CreateRisk(ctx, "vendor lock-in", 3, 2)
	require.NoError(t, err)

	stored, err := repo.GetRisk(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "vendor lock-in", stored.Name)

	_, err = service.CreateRisk(ctx, "", 3, 2)
	require.Error(t, err)
	assert.Equal(t, "MISSING_NAME", errors.Code(err))
}

func TestAddThreatSignal_RequiresExistingRisk(t *testing.T) {
	ctx := context.Background()
	service, _ := serviceFixture(t)

	sig := &risk.ThreatSignal{ID: uuid.New(), RiskID: uuid.New(), Indicator: "ioc", Severity: risk.LevelHigh, ObservedAt: time.Now().UTC()}
	err := service.AddThreatSignal(ctx, sig)
	require.Error(t, err)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errors.Code(err))

	r, err := service.CreateRisk(ctx, "phishing", 4, 4)
	require.NoError(t, err)
	sig.RiskID = r.ID
	require.NoError(t, service.AddThreatSignal(ctx, sig))
}

func TestMapControl(t *testing.T) {
	ctx := context.Background()
	service, repo := serviceFixture(t)

	r, err := service.CreateRisk(ctx, "unauthorized access", 5, 3)
	require.NoError(t, err)

	m, err := service.MapControl(ctx, r.ID, "CC-6.1", risk.MappingPrevents, 4, 90, 0.95, risk.SourceHuman)
	require.NoError(t, err)
	assert.Equal(t, r.ID, m.RiskID)

	mappings, err := repo.ListMappings(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)

	_, err = service.MapControl(ctx, uuid.New(), "CC-6.1", risk.MappingPrevents, 4, 90, 0.95, risk.SourceHuman)
	require.Error(t, err)

	_, err = service.MapControl(ctx, r.ID, "CC-6.1", risk.MappingPrevents, 9, 90, 0.95, risk.SourceHuman)
	require.Error(t, err)
	assert.Equal(t, "INVALID_EFFECTIVENESS", errors.Code(err))
}

func TestAnalyze_AppendsToHistory(t *testing.T) {
	ctx := context.Background()
	service, repo := serviceFixture(t)

	r, err := service.CreateRisk(ctx, "data loss", 4, 3)
	require.NoError(t, err)
	_, err = service.MapControl(ctx, r.ID, "CC-1", risk.MappingMitigates, 4, 80, 0.9, risk.SourceHuman)
	require.NoError(t, err)
	repo.SetControlStatus("CC-1", risk.ImplementationDone)

	first, err := service.Analyze(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, first.BaseScore)

	second, err := service.Analyze(ctx, r.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Recomputation never overwrites a prior record.
	history, err := service.History(ctx, r.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAnalyze_UnknownRisk(t *testing.T) {
	service, _ := serviceFixture(t)
	_, err := service.Analyze(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errors.Code(err))
}

func TestLatestAssessments(t *testing.T) {
	ctx := context.Background()
	service, _ := serviceFixture(t)

	_, err := service.CreateRisk(ctx, "risk a", 2, 2)
	require.NoError(t, err)
	_, err = service.CreateRisk(ctx, "risk b", 5, 5)
	require.NoError(t, err)

	assessments, err := service.LatestAssessments(ctx)
	require.NoError(t, err)
	assert.Len(t, assessments, 2)
}
