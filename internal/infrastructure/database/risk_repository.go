package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/risk"
)

// RiskRepository is the PostgreSQL implementation of risk.Repository.
// Assessments are append-only history.
type RiskRepository struct {
	pool *pgxpool.Pool
}

// NewRiskRepository creates a risk repository.
func NewRiskRepository(pool *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{pool: pool}
}

func (r *RiskRepository) SaveRisk(ctx context.Context, rec *risk.Risk) error {
	query := `
		INSERT INTO risks (id, name, impact, likelihood, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Name, rec.Impact, rec.Likelihood, rec.Category, rec.CreatedAt)
	if err != nil {
		return errors.NewInternalError("failed to save risk").WithCause(err)
	}
	return nil
}

func (r *RiskRepository) GetRisk(ctx context.Context, id uuid.UUID) (*risk.Risk, error) {
	var rec risk.Risk
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, impact, likelihood, category, created_at
		FROM risks WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Name, &rec.Impact, &rec.Likelihood, &rec.Category, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("risk")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get risk").WithCause(err)
	}
	return &rec, nil
}

func (r *RiskRepository) ListRisks(ctx context.Context, limit int) ([]*risk.Risk, error) {
	query := `SELECT id, name, impact, likelihood, category, created_at FROM risks ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list risks").WithCause(err)
	}
	defer rows.Close()

	var risks []*risk.Risk
	for rows.Next() {
		var rec risk.Risk
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Impact, &rec.Likelihood, &rec.Category, &rec.CreatedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan risk").WithCause(err)
		}
		risks = append(risks, &rec)
	}
	return risks, rows.Err()
}

func (r *RiskRepository) SaveThreatSignal(ctx context.Context, sig *risk.ThreatSignal) error {
	query := `
		INSERT INTO threat_signals (id, risk_id, indicator, severity, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		sig.ID, sig.RiskID, sig.Indicator, string(sig.Severity), sig.Source, sig.ObservedAt)
	if err != nil {
		return errors.NewInternalError("failed to save threat signal").WithCause(err)
	}
	return nil
}

func (r *RiskRepository) ListThreatSignals(ctx context.Context, riskID uuid.UUID) ([]*risk.ThreatSignal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, risk_id, indicator, severity, source, observed_at
		FROM threat_signals WHERE risk_id = $1 ORDER BY observed_at DESC`, riskID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list threat signals").WithCause(err)
	}
	defer rows.Close()

	var signals []*risk.ThreatSignal
	for rows.Next() {
		var sig risk.ThreatSignal
		var severity string
		if err := rows.Scan(&sig.ID, &sig.RiskID, &sig.Indicator, &severity, &sig.Source, &sig.ObservedAt); err != nil {
			return nil, errors.NewInternalError("failed to scan threat signal").WithCause(err)
		}
		sig.Severity = risk.Level(severity)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

func (r *RiskRepository) SaveMapping(ctx context.Context, m *risk.ControlMapping) error {
	query := `
		INSERT INTO risk_control_mappings (
			id, risk_id, control_id, mapping_type, effectiveness,
			coverage_pct, confidence, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		m.ID, m.RiskID, m.ControlID, string(m.Type), m.Effectiveness,
		m.CoveragePct, m.Confidence, string(m.Source), m.CreatedAt)
	if err != nil {
		return errors.NewInternalError("failed to save control mapping").WithCause(err)
	}
	return nil
}

func (r *RiskRepository) ListMappings(ctx context.Context, riskID uuid.UUID) ([]*risk.ControlMapping, error) {
	return r.queryMappings(ctx, `
		SELECT id, risk_id, control_id, mapping_type, effectiveness,
		       coverage_pct, confidence, source, created_at
		FROM risk_control_mappings WHERE risk_id = $1 ORDER BY created_at`, riskID)
}

func (r *RiskRepository) ListAllMappings(ctx context.Context) ([]*risk.ControlMapping, error) {
	return r.queryMappings(ctx, `
		SELECT id, risk_id, control_id, mapping_type, effectiveness,
		       coverage_pct, confidence, source, created_at
		FROM risk_control_mappings ORDER BY created_at`)
}

func (r *RiskRepository) queryMappings(ctx context.Context, query string, args ...interface{}) ([]*risk.ControlMapping, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list control mappings").WithCause(err)
	}
	defer rows.Close()

	var mappings []*risk.ControlMapping
	for rows.Next() {
		var m risk.ControlMapping
		var mappingType, source string
		err := rows.Scan(&m.ID, &m.RiskID, &m.ControlID, &mappingType, &m.Effectiveness,
			&m.CoveragePct, &m.Confidence, &source, &m.CreatedAt)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan control mapping").WithCause(err)
		}
		m.Type = risk.MappingType(mappingType)
		m.Source = risk.MappingSource(source)
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func (r *RiskRepository) ControlStatuses(ctx context.Context, controlIDs []string) (map[string]risk.ImplementationStatus, error) {
	statuses := make(map[string]risk.ImplementationStatus, len(controlIDs))
	if len(controlIDs) == 0 {
		return statuses, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT control_id, implementation_status
		FROM controls WHERE control_id = ANY($1)`, pq.Array(controlIDs))
	if err != nil {
		return nil, errors.NewInternalError("failed to resolve control statuses").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, errors.NewInternalError("failed to scan control status").WithCause(err)
		}
		statuses[id] = risk.ImplementationStatus(status)
	}
	return statuses, rows.Err()
}

func (r *RiskRepository) SaveAssessment(ctx context.Context, a *risk.IntegratedAssessment) error {
	query := `
		INSERT INTO risk_assessments (
			id, risk_id, base_score, threat_score, control_effectiveness,
			compliance_score, integrated_score, risk_level, priority_score,
			recommended_actions, assessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.RiskID, a.BaseScore, a.ThreatScore, a.ControlEffectiveness,
		a.ComplianceScore, a.IntegratedScore, string(a.RiskLevel), a.PriorityScore,
		pq.Array(a.RecommendedActions), a.AssessedAt)
	if err != nil {
		return errors.NewInternalError("failed to save risk assessment").WithCause(err)
	}
	return nil
}

func (r *RiskRepository) ListAssessments(ctx context.Context, riskID uuid.UUID, limit int) ([]*risk.IntegratedAssessment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, risk_id, base_score, threat_score, control_effectiveness,
		       compliance_score, integrated_score, risk_level, priority_score,
		       recommended_actions, assessed_at
		FROM risk_assessments
		WHERE risk_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2`, riskID, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list risk assessments").WithCause(err)
	}
	defer rows.Close()

	var assessments []*risk.IntegratedAssessment
	for rows.Next() {
		var a risk.IntegratedAssessment
		var level string
		err := rows.Scan(&a.ID, &a.RiskID, &a.BaseScore, &a.ThreatScore, &a.ControlEffectiveness,
			&a.ComplianceScore, &a.IntegratedScore, &level, &a.PriorityScore,
			pq.Array(&a.RecommendedActions), &a.AssessedAt)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan risk assessment").WithCause(err)
		}
		a.RiskLevel = risk.Level(level)
		assessments = append(assessments, &a)
	}
	return assessments, rows.Err()
}
