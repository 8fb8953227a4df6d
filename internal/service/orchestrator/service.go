package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/risk"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	automationsvc "github.com/grcops/compliance-core/internal/service/automation"
	monitoringsvc "github.com/grcops/compliance-core/internal/service/monitoring"
	risksvc "github.com/grcops/compliance-core/internal/service/risk"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// DashboardCache caches rendered dashboard snapshots. Implemented by the
// Redis cache; a nil cache disables caching.
type DashboardCache interface {
	GetDashboard(ctx context.Context) (*Dashboard, bool)
	SetDashboard(ctx context.Context, d *Dashboard, ttl time.Duration)
}

// Dashboard is the aggregate posture view the GRC surface renders.
type Dashboard struct {
	RisksByLevel    map[risk.Level]int       `json:"risks_by_level"`
	AveragePriority float64                  `json:"average_priority"`
	MappedControls  int                      `json:"mapped_controls"`
	Alerts          *monitoring.AlertMetrics `json:"alerts"`
	GeneratedAt     time.Time                `json:"generated_at"`
}

// Config tunes orchestrator behavior.
type Config struct {
	DashboardTTL time.Duration
}

// Service is the single entry point a GRC surface calls. It resolves triggers,
// exposes execution control and aggregates the dashboard; all real work is
// delegated to the focused services underneath.
type Service struct {
	registry *workflowsvc.Registry
	executor *workflowsvc.Executor
	runner   *automationsvc.Runner
	monitor  *monitoringsvc.MonitorService
	alerts   *monitoringsvc.AlertManager
	risks    *risksvc.Service
	riskRepo risk.Repository
	cache    DashboardCache
	logger   *zap.Logger
	cfg      Config
}

// NewService wires the orchestrator façade.
func NewService(
	registry *workflowsvc.Registry,
	executor *workflowsvc.Executor,
	runner *automationsvc.Runner,
	monitor *monitoringsvc.MonitorService,
	alerts *monitoringsvc.AlertManager,
	risks *risksvc.Service,
	riskRepo risk.Repository,
	cache DashboardCache,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if cfg.DashboardTTL == 0 {
		cfg.DashboardTTL = 30 * time.Second
	}
	return &Service{
		registry: registry,
		executor: executor,
		runner:   runner,
		monitor:  monitor,
		alerts:   alerts,
		risks:    risks,
		riskRepo: riskRepo,
		cache:    cache,
		logger:   logger,
		cfg:      cfg,
	}
}

// TriggerOutcome reports what a trigger resolved to and the handle it
// produced.
type TriggerOutcome struct {
	Kind        string      `json:"kind"` // workflow | automation_rule
	ExecutionID *uuid.UUID  `json:"execution_id,omitempty"`
	RuleResult  interface{} `json:"rule_result,omitempty"`
}

// OnTrigger resolves the id against registered workflow definitions first,
// then automation rules, and launches whichever matches. Workflow launches
// return immediately with the execution handle; rule runs complete inline.
func (s *Service) OnTrigger(ctx context.Context, id uuid.UUID, payload map[string]interface{}) (*TriggerOutcome, error) {
	if _, err := s.registry.Get(ctx, id); err == nil {
		execID, err := s.executor.Execute(ctx, id, payload)
		if err != nil {
			return nil, err
		}
		return &TriggerOutcome{Kind: "workflow", ExecutionID: &execID}, nil
	}

	result, err := s.runner.ExecuteRule(ctx, id)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Type == errors.ErrorTypeNotFound {
			return nil, errors.NewNotFoundError("trigger target")
		}
		return nil, err
	}
	return &TriggerOutcome{Kind: "automation_rule", RuleResult: result}, nil
}

// Fire runs OnTrigger for callers that only observe the error, such as the
// scheduler's cron callbacks.
func (s *Service) Fire(ctx context.Context, id uuid.UUID, payload map[string]interface{}) error {
	_, err := s.OnTrigger(ctx, id, payload)
	return err
}

// ExecutionStatus returns the current record of a workflow execution.
func (s *Service) ExecutionStatus(ctx context.Context, executionID uuid.UUID) (*workflow.WorkflowExecution, error) {
	return s.executor.GetStatus(ctx, executionID)
}

// Decide applies a human approval decision to a suspended execution.
func (s *Service) Decide(ctx context.Context, executionID uuid.UUID, decision workflow.ApprovalDecision) error {
	if decision.Approver == "" {
		return errors.NewValidationError("MISSING_APPROVER", "approval decision requires an approver")
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	return s.executor.Resume(ctx, executionID, decision)
}

// CancelExecution cancels a running or suspended execution.
func (s *Service) CancelExecution(ctx context.Context, executionID uuid.UUID, reason string) error {
	return s.executor.Cancel(ctx, executionID, reason)
}

// Alerts lists recent compliance alerts.
func (s *Service) Alerts(ctx context.Context, filters monitoring.AlertFilters) ([]*monitoring.ComplianceAlert, error) {
	return s.alerts.ListRecent(ctx, filters)
}

// TransitionAlert moves an alert through its lifecycle.
func (s *Service) TransitionAlert(ctx context.Context, alertID uuid.UUID, to monitoring.AlertStatus) (*monitoring.ComplianceAlert, error) {
	return s.alerts.Transition(ctx, alertID, to)
}

// CreateRisk registers a new risk record.
func (s *Service) CreateRisk(ctx context.Context, name string, impact, likelihood int) (*risk.Risk, error) {
	return s.risks.CreateRisk(ctx, name, impact, likelihood)
}

// AnalyzeRisk computes and records a fresh integrated assessment.
func (s *Service) AnalyzeRisk(ctx context.Context, riskID uuid.UUID) (*risk.IntegratedAssessment, error) {
	return s.risks.Analyze(ctx, riskID)
}

// Dashboard aggregates the posture snapshot, serving a cached copy when one
// is fresh enough.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetDashboard(ctx); ok {
			return cached, nil
		}
	}

	assessments, err := s.risks.LatestAssessments(ctx)
	if err != nil {
		return nil, err
	}
	byLevel := make(map[risk.Level]int, 4)
	var prioritySum float64
	for _, a := range assessments {
		byLevel[a.RiskLevel]++
		prioritySum += float64(a.PriorityScore)
	}
	var avgPriority float64
	if len(assessments) > 0 {
		avgPriority = prioritySum / float64(len(assessments))
	}

	mappings, err := s.riskRepo.ListAllMappings(ctx)
	if err != nil {
		return nil, err
	}
	mappedControls := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mappedControls[m.ControlID] = struct{}{}
	}

	alertMetrics, err := s.alerts.Metrics(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		RisksByLevel:    byLevel,
		AveragePriority: avgPriority,
		MappedControls:  len(mappedControls),
		Alerts:          alertMetrics,
		GeneratedAt:     time.Now().UTC(),
	}
	if s.cache != nil {
		s.cache.SetDashboard(ctx, d, s.cfg.DashboardTTL)
	}
	return d, nil
}
