package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleRepository persists monitoring rules. Rules are immutable after
// creation except for the active toggle.
type RuleRepository interface {
	Save(ctx context.Context, rule *MonitoringRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*MonitoringRule, error)
	ListActive(ctx context.Context) ([]*MonitoringRule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// AlertFilters narrows alert listings.
type AlertFilters struct {
	Status   AlertStatus
	Severity Severity
	Since    time.Time
	Limit    int
}

// AlertMetrics is the aggregate view the alert manager reports.
type AlertMetrics struct {
	BySeverity         map[Severity]int `json:"by_severity"`
	Last24Hours        int              `json:"last_24_hours"`
	OpenCount          int              `json:"open_count"`
	MeanResolutionTime time.Duration    `json:"mean_resolution_time"`
}

// AlertRepository persists compliance alerts and serves the aggregate
// queries behind the alert manager's metrics.
type AlertRepository interface {
	Save(ctx context.Context, alert *ComplianceAlert) error
	Update(ctx context.Context, alert *ComplianceAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*ComplianceAlert, error)
	ListRecent(ctx context.Context, filters AlertFilters) ([]*ComplianceAlert, error)
	CountBySeverity(ctx context.Context, since time.Time) (map[Severity]int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	// MeanResolutionTime averages resolved_at - created_at over alerts
	// resolved since the given time.
	MeanResolutionTime(ctx context.Context, since time.Time) (time.Duration, error)
}

// MetricStore is the read-only adapter over stored control, test and
// framework records. The snapshot it returns is the sole input to rule
// evaluation.
type MetricStore interface {
	Snapshot(ctx context.Context, controlIDs []string, frameworkID uuid.UUID) (*MetricSnapshot, error)
}
