package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/testutil"
)

func alertFixture(t *testing.T) (*AlertManager, *testutil.MemoryAlertRepo, *testutil.FakePublisher) {
	t.Helper()
	repo := testutil.NewMemoryAlertRepo()
	publisher := &testutil.FakePublisher{}
	return NewAlertManager(repo, publisher, zaptest.NewLogger(t)), repo, publisher
}

func openAlert(severity monitoring.Severity) *monitoring.ComplianceAlert {
	return monitoring.NewAlert(uuid.New(), monitoring.RuleThreshold, severity, "t", "d",
		map[string]interface{}{"current": 1.0}, []string{"CC-1"})
}

func TestAlertManager_IntakePersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	manager, repo, publisher := alertFixture(t)

	alerts := []*monitoring.ComplianceAlert{openAlert(monitoring.SeverityHigh), openAlert(monitoring.SeverityLow)}
	manager.Intake(ctx, alerts)

	assert.Equal(t, 2, publisher.Count())
	for _, a := range alerts {
		stored, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, monitoring.AlertOpen, stored.Status)
	}
}

func TestAlertManager_Transition(t *testing.T) {
	ctx := context.Background()
	manager, repo, _ := alertFixture(t)

	alert := openAlert(monitoring.SeverityHigh)
	require.NoError(t, repo.Save(ctx, alert))

	updated, err := manager.Transition(ctx, alert.ID, monitoring.AlertAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, monitoring.AlertAcknowledged, updated.Status)
	assert.NotNil(t, updated.AcknowledgedAt)

	_, err = manager.Transition(ctx, alert.ID, monitoring.AlertOpen)
	require.Error(t, err)

	_, err = manager.Transition(ctx, uuid.New(), monitoring.AlertResolved)
	require.Error(t, err)
}

func TestAlertManager_Metrics(t *testing.T) {
	ctx := context.Background()
	manager, repo, _ := alertFixture(t)

	high := openAlert(monitoring.SeverityHigh)
	low := openAlert(monitoring.SeverityLow)
	resolved := openAlert(monitoring.SeverityCritical)
	require.NoError(t, repo.Save(ctx, high))
	require.NoError(t, repo.Save(ctx, low))
	require.NoError(t, repo.Save(ctx, resolved))

	resolvedAt := resolved.CreatedAt.Add(2 * time.Hour)
	resolved.Status = monitoring.AlertResolved
	resolved.ResolvedAt = &resolvedAt
	require.NoError(t, repo.Update(ctx, resolved))

	metrics, err := manager.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.BySeverity[monitoring.SeverityHigh])
	assert.Equal(t, 1, metrics.BySeverity[monitoring.SeverityLow])
	assert.Equal(t, 1, metrics.BySeverity[monitoring.SeverityCritical])
	assert.Equal(t, 3, metrics.Last24Hours)
	assert.Equal(t, 2, metrics.OpenCount)
	assert.Equal(t, 2*time.Hour, metrics.MeanResolutionTime)
}

func TestAlertManager_ListRecentDefaultsLimit(t *testing.T) {
	ctx := context.Background()
	manager, repo, _ := alertFixture(t)
	require.NoError(t, repo.Save(ctx, openAlert(monitoring.SeverityMedium)))

	alerts, err := manager.ListRecent(ctx, monitoring.AlertFilters{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
