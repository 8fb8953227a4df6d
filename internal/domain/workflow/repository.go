package workflow

import (
	"context"

	"github.com/google/uuid"
)

// DefinitionRepository persists immutable workflow definitions.
type DefinitionRepository interface {
	Save(ctx context.Context, def *WorkflowDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*WorkflowDefinition, error)
	List(ctx context.Context, category Category, limit int) ([]*WorkflowDefinition, error)
	// ListScheduled returns definitions with a schedule trigger, for the
	// trigger source to register at startup.
	ListScheduled(ctx context.Context) ([]*WorkflowDefinition, error)
	// ListByEvent returns definitions subscribed to the given event name.
	ListByEvent(ctx context.Context, event string) ([]*WorkflowDefinition, error)
}

// ExecutionRepository persists workflow execution state. Every step
// transition is written through Save so a crash mid-run leaves a resumable,
// inspectable record.
type ExecutionRepository interface {
	Save(ctx context.Context, exec *WorkflowExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error)
	ListByDefinition(ctx context.Context, definitionID uuid.UUID, limit int) ([]*WorkflowExecution, error)
	ListByStatus(ctx context.Context, status ExecutionStatus, limit int) ([]*WorkflowExecution, error)
}
