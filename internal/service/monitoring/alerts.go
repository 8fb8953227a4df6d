package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
)

// AlertPublisher pushes newly created alerts to subscribers (websocket
// stream, downstream queues). Publishing is best-effort; a publish failure
// never fails the intake.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *monitoring.ComplianceAlert)
}

// AlertManager owns the alert lifecycle: intake, status transitions, listing
// and aggregate metrics. Evaluation runs may re-raise the same condition;
// dedupe across runs is a caller concern via alert fingerprints.
type AlertManager struct {
	repo      monitoring.AlertRepository
	publisher AlertPublisher
	logger    *zap.Logger
}

// NewAlertManager creates an alert manager. publisher may be nil.
func NewAlertManager(repo monitoring.AlertRepository, publisher AlertPublisher, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// Intake persists a batch of alerts and publishes each one. A failure on one
// alert is logged and does not abort the rest of the batch.
func (m *AlertManager) Intake(ctx context.Context, alerts []*monitoring.ComplianceAlert) {
	for _, alert := range alerts {
		if err := m.repo.Save(ctx, alert); err != nil {
			m.logger.Error("failed to persist alert",
				zap.String("alert_id", alert.ID.String()),
				zap.String("rule_id", alert.RuleID.String()),
				zap.Error(err))
			continue
		}
		m.logger.Info("alert raised",
			zap.String("alert_id", alert.ID.String()),
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
			zap.Strings("controls", alert.ControlIDs))
		if m.publisher != nil {
			m.publisher.PublishAlert(ctx, alert)
		}
	}
}

// Transition moves an alert to a new lifecycle status.
func (m *AlertManager) Transition(ctx context.Context, alertID uuid.UUID, to monitoring.AlertStatus) (*monitoring.ComplianceAlert, error) {
	alert, err := m.repo.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := alert.Transition(to); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	m.logger.Info("alert transitioned",
		zap.String("alert_id", alertID.String()),
		zap.String("status", string(to)))
	return alert, nil
}

// ListRecent returns alerts ordered by recency.
func (m *AlertManager) ListRecent(ctx context.Context, filters monitoring.AlertFilters) ([]*monitoring.ComplianceAlert, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	return m.repo.ListRecent(ctx, filters)
}

// Metrics aggregates counts by severity, rolling 24h volume and mean
// resolution latency over alerts resolved in the last 30 days.
func (m *AlertManager) Metrics(ctx context.Context) (*monitoring.AlertMetrics, error) {
	now := time.Now().UTC()

	bySeverity, err := m.repo.CountBySeverity(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	last24h, err := m.repo.CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	open, err := m.repo.ListRecent(ctx, monitoring.AlertFilters{Status: monitoring.AlertOpen, Limit: 1000})
	if err != nil {
		return nil, err
	}
	meanResolution, err := m.repo.MeanResolutionTime(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	return &monitoring.AlertMetrics{
		BySeverity:         bySeverity,
		Last24Hours:        last24h,
		OpenCount:          len(open),
		MeanResolutionTime: meanResolution,
	}, nil
}
