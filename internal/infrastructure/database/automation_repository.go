package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
)

// AutomationRepository is the PostgreSQL implementation of
// automation.Repository.
type AutomationRepository struct {
	pool *pgxpool.Pool
}

// NewAutomationRepository creates an automation rule repository.
func NewAutomationRepository(pool *pgxpool.Pool) *AutomationRepository {
	return &AutomationRepository{pool: pool}
}

const automationColumns = `
	id, control_id, rule_type, schedule, active,
	success_count, failure_count, consecutive_failures,
	last_executed, next_execution, created_at`

func (r *AutomationRepository) Save(ctx context.Context, rule *automation.AutomationRule) error {
	query := `
		INSERT INTO automation_rules (` + automationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		rule.ID, rule.ControlID, string(rule.Type), rule.Schedule, rule.Active,
		rule.SuccessCount, rule.FailureCount, rule.ConsecutiveFailures,
		rule.LastExecuted, rule.NextExecution, rule.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save automation rule").WithCause(err)
	}
	return nil
}

func (r *AutomationRepository) GetByID(ctx context.Context, id uuid.UUID) (*automation.AutomationRule, error) {
	query := `SELECT ` + automationColumns + ` FROM automation_rules WHERE id = $1`

	rule, err := scanAutomationRule(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("automation rule")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get automation rule").WithCause(err)
	}
	return rule, nil
}

func (r *AutomationRepository) ListActive(ctx context.Context) ([]*automation.AutomationRule, error) {
	query := `SELECT ` + automationColumns + ` FROM automation_rules WHERE active ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.NewInternalError("failed to list automation rules").WithCause(err)
	}
	defer rows.Close()

	var rules []*automation.AutomationRule
	for rows.Next() {
		rule, err := scanAutomationRule(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan automation rule").WithCause(err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *AutomationRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE automation_rules SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return errors.NewInternalError("failed to toggle automation rule").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("automation rule")
	}
	return nil
}

// UpdateStats writes counters and execution timestamps in a single statement.
func (r *AutomationRepository) UpdateStats(ctx context.Context, rule *automation.AutomationRule) error {
	query := `
		UPDATE automation_rules
		SET success_count = $2,
		    failure_count = $3,
		    consecutive_failures = $4,
		    last_executed = $5,
		    next_execution = $6
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		rule.ID, rule.SuccessCount, rule.FailureCount, rule.ConsecutiveFailures,
		rule.LastExecuted, rule.NextExecution,
	)
	if err != nil {
		return errors.NewInternalError("failed to update automation rule stats").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("automation rule")
	}
	return nil
}

func scanAutomationRule(row rowScanner) (*automation.AutomationRule, error) {
	var (
		rule     automation.AutomationRule
		ruleType string
	)
	err := row.Scan(
		&rule.ID, &rule.ControlID, &ruleType, &rule.Schedule, &rule.Active,
		&rule.SuccessCount, &rule.FailureCount, &rule.ConsecutiveFailures,
		&rule.LastExecuted, &rule.NextExecution, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Type = automation.RuleType(ruleType)
	return &rule, nil
}
