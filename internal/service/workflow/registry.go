package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// cronParser accepts the standard five-field cron syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Registry stores immutable workflow definitions. A malformed definition is
// rejected here with a definition error and creates no record.
type Registry struct {
	repo   workflow.DefinitionRepository
	logger *zap.Logger
}

// NewRegistry creates a definition registry.
func NewRegistry(repo workflow.DefinitionRepository, logger *zap.Logger) *Registry {
	return &Registry{repo: repo, logger: logger}
}

// Register validates and persists a new definition.
func (r *Registry) Register(ctx context.Context, def *workflow.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.Trigger.Type == workflow.TriggerSchedule {
		if _, err := cronParser.Parse(def.Trigger.CronExpr); err != nil {
			return errors.NewDefinitionError("INVALID_SCHEDULE", "cron expression does not parse").WithCause(err)
		}
	}
	if err := r.repo.Save(ctx, def); err != nil {
		return err
	}
	r.logger.Info("workflow definition registered",
		zap.String("definition_id", def.ID.String()),
		zap.String("name", def.Name),
		zap.String("category", string(def.Category)),
		zap.Int("version", def.Version),
		zap.Int("steps", len(def.Steps)))
	return nil
}

// RegisterVersion validates and persists the next version of an existing
// definition. The prior version remains untouched and addressable.
func (r *Registry) RegisterVersion(ctx context.Context, priorID uuid.UUID, steps []workflow.WorkflowStep, trigger workflow.TriggerSpec, approval workflow.ApprovalPolicy) (*workflow.WorkflowDefinition, error) {
	prior, err := r.repo.GetByID(ctx, priorID)
	if err != nil {
		return nil, err
	}
	next, err := prior.NewVersion(steps, trigger, approval)
	if err != nil {
		return nil, err
	}
	if err := r.Register(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Get fetches a definition by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*workflow.WorkflowDefinition, error) {
	return r.repo.GetByID(ctx, id)
}

// List returns definitions, optionally filtered by category.
func (r *Registry) List(ctx context.Context, category workflow.Category, limit int) ([]*workflow.WorkflowDefinition, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.repo.List(ctx, category, limit)
}
