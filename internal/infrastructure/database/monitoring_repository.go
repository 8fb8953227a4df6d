package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
)

// RuleRepository is the PostgreSQL implementation of
// monitoring.RuleRepository. Conditions persist as JSONB tagged by rule type
// and are parsed back into the typed variant on read.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a monitoring rule repository.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func (r *RuleRepository) Save(ctx context.Context, rule *monitoring.MonitoringRule) error {
	conditions, err := rule.MarshalConditions()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO monitoring_rules (
			id, name, framework_id, control_ids, rule_type, conditions,
			check_frequency_ms, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.FrameworkID, pq.Array(rule.ControlIDs),
		string(rule.Type()), conditions,
		rule.CheckFrequency.Milliseconds(), rule.Active, rule.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save monitoring rule").WithCause(err)
	}
	return nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*monitoring.MonitoringRule, error) {
	query := `
		SELECT id, name, framework_id, control_ids, rule_type, conditions,
		       check_frequency_ms, active, created_at
		FROM monitoring_rules
		WHERE id = $1`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("monitoring rule")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get monitoring rule").WithCause(err)
	}
	return rule, nil
}

func (r *RuleRepository) ListActive(ctx context.Context) ([]*monitoring.MonitoringRule, error) {
	query := `
		SELECT id, name, framework_id, control_ids, rule_type, conditions,
		       check_frequency_ms, active, created_at
		FROM monitoring_rules
		WHERE active
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.NewInternalError("failed to list monitoring rules").WithCause(err)
	}
	defer rows.Close()

	var rules []*monitoring.MonitoringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan monitoring rule").WithCause(err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE monitoring_rules SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return errors.NewInternalError("failed to toggle monitoring rule").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("monitoring rule")
	}
	return nil
}

func scanRule(row rowScanner) (*monitoring.MonitoringRule, error) {
	var (
		rule        monitoring.MonitoringRule
		ruleType    string
		conditions  []byte
		frequencyMS int64
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.FrameworkID, pq.Array(&rule.ControlIDs),
		&ruleType, &conditions, &frequencyMS, &rule.Active, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.CheckFrequency = time.Duration(frequencyMS) * time.Millisecond
	parsed, err := monitoring.ParseConditions(monitoring.RuleType(ruleType), conditions)
	if err != nil {
		return nil, fmt.Errorf("parsing rule conditions: %w", err)
	}
	rule.Conditions = parsed
	return &rule, nil
}

// AlertRepository is the PostgreSQL implementation of
// monitoring.AlertRepository, including the aggregate queries behind alert
// metrics.
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates an alert repository.
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

const alertColumns = `
	id, rule_id, rule_type, severity, title, description, trigger_data,
	control_ids, risk_summary, suggested_actions, status, created_at,
	acknowledged_at, resolved_at`

func (r *AlertRepository) Save(ctx context.Context, alert *monitoring.ComplianceAlert) error {
	trigger, err := json.Marshal(alert.TriggerData)
	if err != nil {
		return errors.NewInternalError("failed to marshal trigger data").WithCause(err)
	}
	query := `
		INSERT INTO compliance_alerts (` + alertColumns + `, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.pool.Exec(ctx, query,
		alert.ID, alert.RuleID, string(alert.Type), string(alert.Severity),
		alert.Title, alert.Description, trigger,
		pq.Array(alert.ControlIDs), alert.RiskSummary, pq.Array(alert.SuggestedActions),
		string(alert.Status), alert.CreatedAt, alert.AcknowledgedAt, alert.ResolvedAt,
		alert.Fingerprint(),
	)
	if err != nil {
		return errors.NewInternalError("failed to save alert").WithCause(err)
	}
	return nil
}

func (r *AlertRepository) Update(ctx context.Context, alert *monitoring.ComplianceAlert) error {
	query := `
		UPDATE compliance_alerts
		SET status = $2, acknowledged_at = $3, resolved_at = $4
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		alert.ID, string(alert.Status), alert.AcknowledgedAt, alert.ResolvedAt)
	if err != nil {
		return errors.NewInternalError("failed to update alert").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("alert")
	}
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*monitoring.ComplianceAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM compliance_alerts WHERE id = $1`

	alert, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("alert")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get alert").WithCause(err)
	}
	return alert, nil
}

func (r *AlertRepository) ListRecent(ctx context.Context, filters monitoring.AlertFilters) ([]*monitoring.ComplianceAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM compliance_alerts WHERE 1=1`
	args := []interface{}{}
	arg := 1
	if filters.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, arg)
		args = append(args, string(filters.Status))
		arg++
	}
	if filters.Severity != "" {
		query += fmt.Sprintf(` AND severity = $%d`, arg)
		args = append(args, string(filters.Severity))
		arg++
	}
	if !filters.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, arg)
		args = append(args, filters.Since)
		arg++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, arg)
	args = append(args, filters.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list alerts").WithCause(err)
	}
	defer rows.Close()

	var alerts []*monitoring.ComplianceAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan alert").WithCause(err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *AlertRepository) CountBySeverity(ctx context.Context, since time.Time) (map[monitoring.Severity]int, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM compliance_alerts
		WHERE created_at >= $1
		GROUP BY severity`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to count alerts by severity").WithCause(err)
	}
	defer rows.Close()

	counts := make(map[monitoring.Severity]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, errors.NewInternalError("failed to scan severity count").WithCause(err)
		}
		counts[monitoring.Severity(severity)] = count
	}
	return counts, rows.Err()
}

func (r *AlertRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_alerts WHERE created_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, errors.NewInternalError("failed to count alerts").WithCause(err)
	}
	return count, nil
}

func (r *AlertRepository) MeanResolutionTime(ctx context.Context, since time.Time) (time.Duration, error) {
	var seconds *float64
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)))
		FROM compliance_alerts
		WHERE resolved_at IS NOT NULL AND resolved_at >= $1`, since).Scan(&seconds)
	if err != nil {
		return 0, errors.NewInternalError("failed to compute mean resolution time").WithCause(err)
	}
	if seconds == nil {
		return 0, nil
	}
	return time.Duration(*seconds * float64(time.Second)), nil
}

func scanAlert(row rowScanner) (*monitoring.ComplianceAlert, error) {
	var (
		alert    monitoring.ComplianceAlert
		ruleType string
		severity string
		status   string
		trigger  []byte
	)
	err := row.Scan(
		&alert.ID, &alert.RuleID, &ruleType, &severity, &alert.Title,
		&alert.Description, &trigger, pq.Array(&alert.ControlIDs),
		&alert.RiskSummary, pq.Array(&alert.SuggestedActions),
		&status, &alert.CreatedAt, &alert.AcknowledgedAt, &alert.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.Type = monitoring.RuleType(ruleType)
	alert.Severity = monitoring.Severity(severity)
	alert.Status = monitoring.AlertStatus(status)
	if len(trigger) > 0 {
		if err := json.Unmarshal(trigger, &alert.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshaling trigger data: %w", err)
		}
	}
	return &alert, nil
}
