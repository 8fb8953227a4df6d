package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/risk"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// MemoryDefinitionRepo is an in-memory workflow.DefinitionRepository.
type MemoryDefinitionRepo struct {
	mu   sync.RWMutex
	defs map[uuid.UUID]*workflow.WorkflowDefinition
}

func NewMemoryDefinitionRepo() *MemoryDefinitionRepo {
	return &MemoryDefinitionRepo{defs: make(map[uuid.UUID]*workflow.WorkflowDefinition)}
}

func (r *MemoryDefinitionRepo) Save(_ context.Context, def *workflow.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}

func (r *MemoryDefinitionRepo) GetByID(_ context.Context, id uuid.UUID) (*workflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, errors.NewNotFoundError("workflow definition")
	}
	return def, nil
}

func (r *MemoryDefinitionRepo) List(_ context.Context, category workflow.Category, limit int) ([]*workflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []*workflow.WorkflowDefinition
	for _, def := range r.defs {
		if category != "" && def.Category != category {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CreatedAt.After(defs[j].CreatedAt) })
	if limit > 0 && len(defs) > limit {
		defs = defs[:limit]
	}
	return defs, nil
}

func (r *MemoryDefinitionRepo) ListScheduled(_ context.Context) ([]*workflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []*workflow.WorkflowDefinition
	for _, def := range r.defs {
		if def.Trigger.Type == workflow.TriggerSchedule {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func (r *MemoryDefinitionRepo) ListByEvent(_ context.Context, event string) ([]*workflow.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []*workflow.WorkflowDefinition
	for _, def := range r.defs {
		if def.Trigger.Type != workflow.TriggerEvent {
			continue
		}
		for _, e := range def.Trigger.Events {
			if e == event {
				defs = append(defs, def)
				break
			}
		}
	}
	return defs, nil
}

// MemoryExecutionRepo is an in-memory workflow.ExecutionRepository. Saves
// deep-copy step results so concurrent readers observe consistent records.
// Like the PostgreSQL repository, saves over a terminal record are rejected
// with a conflict so a finalized execution cannot be revived.
type MemoryExecutionRepo struct {
	mu    sync.RWMutex
	execs map[uuid.UUID]*workflow.WorkflowExecution
}

func NewMemoryExecutionRepo() *MemoryExecutionRepo {
	return &MemoryExecutionRepo{execs: make(map[uuid.UUID]*workflow.WorkflowExecution)}
}

func copyExecution(exec *workflow.WorkflowExecution) *workflow.WorkflowExecution {
	clone := *exec
	clone.StepResults = make(map[string]workflow.StepResult, len(exec.StepResults))
	for k, v := range exec.StepResults {
		clone.StepResults[k] = v
	}
	return &clone
}

func (r *MemoryExecutionRepo) Save(_ context.Context, exec *workflow.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.execs[exec.ID]; ok && stored.Status.Terminal() {
		return errors.NewConflictError("workflow execution already finalized")
	}
	r.execs[exec.ID] = copyExecution(exec)
	return nil
}

func (r *MemoryExecutionRepo) GetByID(_ context.Context, id uuid.UUID) (*workflow.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.execs[id]
	if !ok {
		return nil, errors.NewNotFoundError("workflow execution")
	}
	return copyExecution(exec), nil
}

func (r *MemoryExecutionRepo) ListByDefinition(_ context.Context, definitionID uuid.UUID, limit int) ([]*workflow.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var execs []*workflow.WorkflowExecution
	for _, exec := range r.execs {
		if exec.DefinitionID == definitionID {
			execs = append(execs, copyExecution(exec))
		}
	}
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (r *MemoryExecutionRepo) ListByStatus(_ context.Context, status workflow.ExecutionStatus, limit int) ([]*workflow.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var execs []*workflow.WorkflowExecution
	for _, exec := range r.execs {
		if exec.Status == status {
			execs = append(execs, copyExecution(exec))
		}
	}
	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// MemoryRuleRepo is an in-memory monitoring.RuleRepository.
type MemoryRuleRepo struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]*monitoring.MonitoringRule
}

func NewMemoryRuleRepo() *MemoryRuleRepo {
	return &MemoryRuleRepo{rules: make(map[uuid.UUID]*monitoring.MonitoringRule)}
}

func (r *MemoryRuleRepo) Save(_ context.Context, rule *monitoring.MonitoringRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

func (r *MemoryRuleRepo) GetByID(_ context.Context, id uuid.UUID) (*monitoring.MonitoringRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, errors.NewNotFoundError("monitoring rule")
	}
	return rule, nil
}

func (r *MemoryRuleRepo) ListActive(_ context.Context) ([]*monitoring.MonitoringRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rules []*monitoring.MonitoringRule
	for _, rule := range r.rules {
		if rule.Active {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (r *MemoryRuleRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return errors.NewNotFoundError("monitoring rule")
	}
	rule.Active = active
	return nil
}

// MemoryAlertRepo is an in-memory monitoring.AlertRepository.
type MemoryAlertRepo struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]*monitoring.ComplianceAlert
}

func NewMemoryAlertRepo() *MemoryAlertRepo {
	return &MemoryAlertRepo{alerts: make(map[uuid.UUID]*monitoring.ComplianceAlert)}
}

func (r *MemoryAlertRepo) Save(_ context.Context, alert *monitoring.ComplianceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[alert.ID] = alert
	return nil
}

func (r *MemoryAlertRepo) Update(_ context.Context, alert *monitoring.ComplianceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return errors.NewNotFoundError("alert")
	}
	r.alerts[alert.ID] = alert
	return nil
}

func (r *MemoryAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*monitoring.ComplianceAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, errors.NewNotFoundError("alert")
	}
	return alert, nil
}

func (r *MemoryAlertRepo) ListRecent(_ context.Context, filters monitoring.AlertFilters) ([]*monitoring.ComplianceAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var alerts []*monitoring.ComplianceAlert
	for _, alert := range r.alerts {
		if filters.Status != "" && alert.Status != filters.Status {
			continue
		}
		if filters.Severity != "" && alert.Severity != filters.Severity {
			continue
		}
		if !filters.Since.IsZero() && alert.CreatedAt.Before(filters.Since) {
			continue
		}
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
	if filters.Limit > 0 && len(alerts) > filters.Limit {
		alerts = alerts[:filters.Limit]
	}
	return alerts, nil
}

func (r *MemoryAlertRepo) CountBySeverity(_ context.Context, since time.Time) (map[monitoring.Severity]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[monitoring.Severity]int)
	for _, alert := range r.alerts {
		if alert.CreatedAt.Before(since) {
			continue
		}
		counts[alert.Severity]++
	}
	return counts, nil
}

func (r *MemoryAlertRepo) CountSince(_ context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, alert := range r.alerts {
		if !alert.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryAlertRepo) MeanResolutionTime(_ context.Context, since time.Time) (time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total time.Duration
	resolved := 0
	for _, alert := range r.alerts {
		if alert.ResolvedAt == nil || alert.ResolvedAt.Before(since) {
			continue
		}
		total += alert.ResolvedAt.Sub(alert.CreatedAt)
		resolved++
	}
	if resolved == 0 {
		return 0, nil
	}
	return total / time.Duration(resolved), nil
}

// MemoryAutomationRepo is an in-memory automation.Repository.
type MemoryAutomationRepo struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]*automation.AutomationRule
}

func NewMemoryAutomationRepo() *MemoryAutomationRepo {
	return &MemoryAutomationRepo{rules: make(map[uuid.UUID]*automation.AutomationRule)}
}

func (r *MemoryAutomationRepo) Save(_ context.Context, rule *automation.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

func (r *MemoryAutomationRepo) GetByID(_ context.Context, id uuid.UUID) (*automation.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, errors.NewNotFoundError("automation rule")
	}
	clone := *rule
	return &clone, nil
}

func (r *MemoryAutomationRepo) ListActive(_ context.Context) ([]*automation.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rules []*automation.AutomationRule
	for _, rule := range r.rules {
		if rule.Active {
			clone := *rule
			rules = append(rules, &clone)
		}
	}
	return rules, nil
}

func (r *MemoryAutomationRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return errors.NewNotFoundError("automation rule")
	}
	rule.Active = active
	return nil
}

func (r *MemoryAutomationRepo) UpdateStats(_ context.Context, rule *automation.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rules[rule.ID]
	if !ok {
		return errors.NewNotFoundError("automation rule")
	}
	stored.SuccessCount = rule.SuccessCount
	stored.FailureCount = rule.FailureCount
	stored.ConsecutiveFailures = rule.ConsecutiveFailures
	stored.LastExecuted = rule.LastExecuted
	stored.NextExecution = rule.NextExecution
	return nil
}

// MemoryRiskRepo is an in-memory risk.Repository.
type MemoryRiskRepo struct {
	mu          sync.RWMutex
	risks       map[uuid.UUID]*risk.Risk
	threats     map[uuid.UUID][]*risk.ThreatSignal
	mappings    map[uuid.UUID][]*risk.ControlMapping
	statuses    map[string]risk.ImplementationStatus
	assessments map[uuid.UUID][]*risk.IntegratedAssessment
}

func NewMemoryRiskRepo() *MemoryRiskRepo {
	return &MemoryRiskRepo{
		risks:       make(map[uuid.UUID]*risk.Risk),
		threats:     make(map[uuid.UUID][]*risk.ThreatSignal),
		mappings:    make(map[uuid.UUID][]*risk.ControlMapping),
		statuses:    make(map[string]risk.ImplementationStatus),
		assessments: make(map[uuid.UUID][]*risk.IntegratedAssessment),
	}
}

// SetControlStatus seeds an implementation status for tests.
func (r *MemoryRiskRepo) SetControlStatus(controlID string, status risk.ImplementationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[controlID] = status
}

func (r *MemoryRiskRepo) SaveRisk(_ context.Context, rec *risk.Risk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.risks[rec.ID] = rec
	return nil
}

func (r *MemoryRiskRepo) GetRisk(_ context.Context, id uuid.UUID) (*risk.Risk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.risks[id]
	if !ok {
		return nil, errors.NewNotFoundError("risk")
	}
	return rec, nil
}

func (r *MemoryRiskRepo) ListRisks(_ context.Context, limit int) ([]*risk.Risk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var risks []*risk.Risk
	for _, rec := range r.risks {
		risks = append(risks, rec)
	}
	if limit > 0 && len(risks) > limit {
		risks = risks[:limit]
	}
	return risks, nil
}

func (r *MemoryRiskRepo) SaveThreatSignal(_ context.Context, sig *risk.ThreatSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threats[sig.RiskID] = append(r.threats[sig.RiskID], sig)
	return nil
}

func (r *MemoryRiskRepo) ListThreatSignals(_ context.Context, riskID uuid.UUID) ([]*risk.ThreatSignal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*risk.ThreatSignal(nil), r.threats[riskID]...), nil
}

func (r *MemoryRiskRepo) SaveMapping(_ context.Context, m *risk.ControlMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.RiskID] = append(r.mappings[m.RiskID], m)
	return nil
}

func (r *MemoryRiskRepo) ListMappings(_ context.Context, riskID uuid.UUID) ([]*risk.ControlMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*risk.ControlMapping(nil), r.mappings[riskID]...), nil
}

func (r *MemoryRiskRepo) ListAllMappings(_ context.Context) ([]*risk.ControlMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*risk.ControlMapping
	for _, ms := range r.mappings {
		all = append(all, ms...)
	}
	return all, nil
}

func (r *MemoryRiskRepo) ControlStatuses(_ context.Context, controlIDs []string) (map[string]risk.ImplementationStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make(map[string]risk.ImplementationStatus, len(controlIDs))
	for _, id := range controlIDs {
		if status, ok := r.statuses[id]; ok {
			statuses[id] = status
		}
	}
	return statuses, nil
}

func (r *MemoryRiskRepo) SaveAssessment(_ context.Context, a *risk.IntegratedAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments[a.RiskID] = append(r.assessments[a.RiskID], a)
	return nil
}

func (r *MemoryRiskRepo) ListAssessments(_ context.Context, riskID uuid.UUID, limit int) ([]*risk.IntegratedAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := append([]*risk.IntegratedAssessment(nil), r.assessments[riskID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].AssessedAt.After(list[j].AssessedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
