package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
)

// Category describes what a workflow is for.
type Category string

const (
	CategoryAssessment    Category = "assessment"
	CategoryRemediation   Category = "remediation"
	CategoryMonitoring    Category = "monitoring"
	CategoryCertification Category = "certification"
	CategoryAuditPrep     Category = "audit_prep"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAssessment, CategoryRemediation, CategoryMonitoring,
		CategoryCertification, CategoryAuditPrep:
		return true
	}
	return false
}

// AutomationLevel describes how much of a workflow runs without a human.
type AutomationLevel string

const (
	AutomationManual AutomationLevel = "manual"
	AutomationSemi   AutomationLevel = "semi"
	AutomationFull   AutomationLevel = "full"
)

func (l AutomationLevel) Valid() bool {
	switch l {
	case AutomationManual, AutomationSemi, AutomationFull:
		return true
	}
	return false
}

// TriggerType describes how an execution of a definition is started.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerManual   TriggerType = "manual"
)

// TriggerSpec declares when a workflow should run.
type TriggerSpec struct {
	Type     TriggerType `json:"type"`
	CronExpr string      `json:"cron_expr,omitempty"`
	Events   []string    `json:"events,omitempty"`
}

func (t TriggerSpec) validate() error {
	switch t.Type {
	case TriggerSchedule:
		if t.CronExpr == "" {
			return errors.NewDefinitionError("MISSING_SCHEDULE", "schedule trigger requires a cron expression")
		}
	case TriggerEvent:
		if len(t.Events) == 0 {
			return errors.NewDefinitionError("MISSING_EVENTS", "event trigger requires at least one event name")
		}
	case TriggerManual:
	default:
		return errors.NewDefinitionError("INVALID_TRIGGER", fmt.Sprintf("unknown trigger type %q", t.Type))
	}
	return nil
}

// ApprovalPolicy gates automated steps behind a human decision when the
// reported confidence falls below the threshold.
type ApprovalPolicy struct {
	RequiredRoles       []string `json:"required_roles"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
}

// RetryPolicy controls re-invocation of a failed step.
// Delay for attempt n is BaseDelay * BackoffMultiplier^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	BaseDelay         time.Duration `json:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
}

// Delay returns the backoff delay before retry attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WorkflowDefinition is a reusable, versioned template of steps and policy.
// Immutable once registered; changes are made by registering a new version.
type WorkflowDefinition struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Category        Category        `json:"category"`
	AutomationLevel AutomationLevel `json:"automation_level"`
	Steps           []WorkflowStep  `json:"steps"`
	Trigger         TriggerSpec     `json:"trigger"`
	Approval        ApprovalPolicy  `json:"approval"`
	Version         int             `json:"version"`
	SupersedesID    *uuid.UUID      `json:"supersedes_id,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewDefinition builds and validates a workflow definition. A cyclic or
// otherwise malformed step graph is rejected here with a definition error;
// nothing is persisted for a rejected definition.
func NewDefinition(name string, category Category, level AutomationLevel, steps []WorkflowStep, trigger TriggerSpec, approval ApprovalPolicy, createdBy string) (*WorkflowDefinition, error) {
	d := &WorkflowDefinition{
		ID:              uuid.New(),
		Name:            name,
		Category:        category,
		AutomationLevel: level,
		Steps:           steps,
		Trigger:         trigger,
		Approval:        approval,
		Version:         1,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewVersion derives the next version of a definition with a replacement step
// set. The prior definition is left untouched.
func (d *WorkflowDefinition) NewVersion(steps []WorkflowStep, trigger TriggerSpec, approval ApprovalPolicy) (*WorkflowDefinition, error) {
	prior := d.ID
	next := &WorkflowDefinition{
		ID:              uuid.New(),
		Name:            d.Name,
		Category:        d.Category,
		AutomationLevel: d.AutomationLevel,
		Steps:           steps,
		Trigger:         trigger,
		Approval:        approval,
		Version:         d.Version + 1,
		SupersedesID:    &prior,
		CreatedBy:       d.CreatedBy,
		CreatedAt:       time.Now().UTC(),
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// Validate checks structural invariants: non-empty name, known category and
// automation level, valid trigger, unique step ids, known dependencies,
// per-kind parameters, and an acyclic dependency graph.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return errors.NewDefinitionError("MISSING_NAME", "workflow definition requires a name")
	}
	if !d.Category.Valid() {
		return errors.NewDefinitionError("INVALID_CATEGORY", fmt.Sprintf("unknown category %q", d.Category))
	}
	if !d.AutomationLevel.Valid() {
		return errors.NewDefinitionError("INVALID_AUTOMATION_LEVEL", fmt.Sprintf("unknown automation level %q", d.AutomationLevel))
	}
	if err := d.Trigger.validate(); err != nil {
		return err
	}
	if len(d.Steps) == 0 {
		return errors.NewDefinitionError("NO_STEPS", "workflow definition requires at least one step")
	}
	if d.Approval.ConfidenceThreshold < 0 || d.Approval.ConfidenceThreshold > 1 {
		return errors.NewDefinitionError("INVALID_THRESHOLD", "confidence threshold must be within [0, 1]")
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return errors.NewDefinitionError("MISSING_STEP_ID", "every step requires an id")
		}
		if seen[s.ID] {
			return errors.NewDefinitionError("DUPLICATE_STEP_ID", fmt.Sprintf("step id %q appears more than once", s.ID))
		}
		seen[s.ID] = true
		if err := s.validate(); err != nil {
			return err
		}
	}
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return errors.NewDefinitionError("UNKNOWN_DEPENDENCY", fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep))
			}
			if dep == s.ID {
				return errors.NewDefinitionError("SELF_DEPENDENCY", fmt.Sprintf("step %q depends on itself", s.ID))
			}
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the steps in dependency order using Kahn's
// algorithm, preserving definition order among steps that are not ordered
// relative to each other. A cycle yields a definition error.
func (d *WorkflowDefinition) TopologicalOrder() ([]WorkflowStep, error) {
	indegree := make(map[string]int, len(d.Steps))
	dependents := make(map[string][]string, len(d.Steps))
	byID := make(map[string]WorkflowStep, len(d.Steps))

	for _, s := range d.Steps {
		byID[s.ID] = s
		indegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range d.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	ordered := make([]WorkflowStep, 0, len(d.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(d.Steps) {
		return nil, errors.NewDefinitionError("CYCLIC_DEPENDENCY", "workflow step dependencies contain a cycle")
	}
	return ordered, nil
}

// Step returns the step with the given id.
func (d *WorkflowDefinition) Step(id string) (WorkflowStep, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// MarshalSteps serializes the step set for persistence.
func (d *WorkflowDefinition) MarshalSteps() ([]byte, error) {
	data, err := json.Marshal(d.Steps)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal workflow steps").WithCause(err)
	}
	return data, nil
}
