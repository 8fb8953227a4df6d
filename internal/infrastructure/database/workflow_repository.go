package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// DefinitionRepository is the PostgreSQL implementation of
// workflow.DefinitionRepository. Steps, trigger and approval policy are
// stored as JSONB.
type DefinitionRepository struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepository creates a definition repository.
func NewDefinitionRepository(pool *pgxpool.Pool) *DefinitionRepository {
	return &DefinitionRepository{pool: pool}
}

func (r *DefinitionRepository) Save(ctx context.Context, def *workflow.WorkflowDefinition) error {
	steps, err := def.MarshalSteps()
	if err != nil {
		return err
	}
	trigger, err := json.Marshal(def.Trigger)
	if err != nil {
		return errors.NewInternalError("failed to marshal trigger").WithCause(err)
	}
	approval, err := json.Marshal(def.Approval)
	if err != nil {
		return errors.NewInternalError("failed to marshal approval policy").WithCause(err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, name, category, automation_level, steps, trigger, approval,
			version, supersedes_id, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query,
		def.ID, def.Name, string(def.Category), string(def.AutomationLevel),
		steps, trigger, approval,
		def.Version, def.SupersedesID, def.CreatedBy, def.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save workflow definition").WithCause(err)
	}
	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, automation_level, steps, trigger, approval,
		       version, supersedes_id, created_by, created_at
		FROM workflow_definitions
		WHERE id = $1`

	def, err := scanDefinition(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("workflow definition")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get workflow definition").WithCause(err)
	}
	return def, nil
}

func (r *DefinitionRepository) List(ctx context.Context, category workflow.Category, limit int) ([]*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, automation_level, steps, trigger, approval,
		       version, supersedes_id, created_by, created_at
		FROM workflow_definitions`
	args := []interface{}{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(category))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	return r.queryDefinitions(ctx, query, args...)
}

func (r *DefinitionRepository) ListScheduled(ctx context.Context) ([]*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, automation_level, steps, trigger, approval,
		       version, supersedes_id, created_by, created_at
		FROM workflow_definitions
		WHERE trigger->>'type' = 'schedule'
		ORDER BY created_at`
	return r.queryDefinitions(ctx, query)
}

func (r *DefinitionRepository) ListByEvent(ctx context.Context, event string) ([]*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, category, automation_level, steps, trigger, approval,
		       version, supersedes_id, created_by, created_at
		FROM workflow_definitions
		WHERE trigger->>'type' = 'event'
		  AND trigger->'events' ? $1
		ORDER BY created_at`
	return r.queryDefinitions(ctx, query, event)
}

func (r *DefinitionRepository) queryDefinitions(ctx context.Context, query string, args ...interface{}) ([]*workflow.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list workflow definitions").WithCause(err)
	}
	defer rows.Close()

	var defs []*workflow.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan workflow definition").WithCause(err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*workflow.WorkflowDefinition, error) {
	var (
		def      workflow.WorkflowDefinition
		category string
		level    string
		steps    []byte
		trigger  []byte
		approval []byte
	)
	err := row.Scan(
		&def.ID, &def.Name, &category, &level, &steps, &trigger, &approval,
		&def.Version, &def.SupersedesID, &def.CreatedBy, &def.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.Category = workflow.Category(category)
	def.AutomationLevel = workflow.AutomationLevel(level)
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshaling steps: %w", err)
	}
	if err := json.Unmarshal(trigger, &def.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger: %w", err)
	}
	if err := json.Unmarshal(approval, &def.Approval); err != nil {
		return nil, fmt.Errorf("unmarshaling approval: %w", err)
	}
	return &def, nil
}

// ExecutionRepository is the PostgreSQL implementation of
// workflow.ExecutionRepository. Step results and trigger payload are stored
// as JSONB; Save upserts so every state transition lands in one statement.
type ExecutionRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

func (r *ExecutionRepository) Save(ctx context.Context, exec *workflow.WorkflowExecution) error {
	results, err := json.Marshal(exec.StepResults)
	if err != nil {
		return errors.NewInternalError("failed to marshal step results").WithCause(err)
	}
	payload, err := json.Marshal(exec.TriggerPayload)
	if err != nil {
		return errors.NewInternalError("failed to marshal trigger payload").WithCause(err)
	}

	// The WHERE clause makes terminal statuses win: once an execution is
	// completed, failed or cancelled, a concurrent in-flight save must not
	// revive it.
	query := `
		INSERT INTO workflow_executions (
			id, definition_id, status, current_step, waiting_on_step,
			step_results, trigger_payload, started_at, completed_at,
			error_detail, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			waiting_on_step = EXCLUDED.waiting_on_step,
			step_results = EXCLUDED.step_results,
			completed_at = EXCLUDED.completed_at,
			error_detail = EXCLUDED.error_detail,
			updated_at = EXCLUDED.updated_at
		WHERE workflow_executions.status NOT IN ('completed', 'failed', 'cancelled')`

	tag, err := r.pool.Exec(ctx, query,
		exec.ID, exec.DefinitionID, string(exec.Status), exec.CurrentStep, exec.WaitingOnStep,
		results, payload, exec.StartedAt, exec.CompletedAt,
		exec.ErrorDetail, exec.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save workflow execution").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("workflow execution already finalized")
	}
	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*workflow.WorkflowExecution, error) {
	query := `
		SELECT id, definition_id, status, current_step, waiting_on_step,
		       step_results, trigger_payload, started_at, completed_at,
		       error_detail, updated_at
		FROM workflow_executions
		WHERE id = $1`

	exec, err := scanExecution(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("workflow execution")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to get workflow execution").WithCause(err)
	}
	return exec, nil
}

func (r *ExecutionRepository) ListByDefinition(ctx context.Context, definitionID uuid.UUID, limit int) ([]*workflow.WorkflowExecution, error) {
	query := `
		SELECT id, definition_id, status, current_step, waiting_on_step,
		       step_results, trigger_payload, started_at, completed_at,
		       error_detail, updated_at
		FROM workflow_executions
		WHERE definition_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	return r.queryExecutions(ctx, query, definitionID, limit)
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status workflow.ExecutionStatus, limit int) ([]*workflow.WorkflowExecution, error) {
	query := `
		SELECT id, definition_id, status, current_step, waiting_on_step,
		       step_results, trigger_payload, started_at, completed_at,
		       error_detail, updated_at
		FROM workflow_executions
		WHERE status = $1
		ORDER BY started_at DESC
		LIMIT $2`
	return r.queryExecutions(ctx, query, string(status), limit)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*workflow.WorkflowExecution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list workflow executions").WithCause(err)
	}
	defer rows.Close()

	var execs []*workflow.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan workflow execution").WithCause(err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*workflow.WorkflowExecution, error) {
	var (
		exec    workflow.WorkflowExecution
		status  string
		results []byte
		payload []byte
	)
	err := row.Scan(
		&exec.ID, &exec.DefinitionID, &status, &exec.CurrentStep, &exec.WaitingOnStep,
		&results, &payload, &exec.StartedAt, &exec.CompletedAt,
		&exec.ErrorDetail, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = workflow.ExecutionStatus(status)
	if err := json.Unmarshal(results, &exec.StepResults); err != nil {
		return nil, fmt.Errorf("unmarshaling step results: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &exec.TriggerPayload); err != nil {
			return nil, fmt.Errorf("unmarshaling trigger payload: %w", err)
		}
	}
	return &exec, nil
}
