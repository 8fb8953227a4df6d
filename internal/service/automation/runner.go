package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	"github.com/grcops/compliance-core/internal/metrics"
	monitoringsvc "github.com/grcops/compliance-core/internal/service/monitoring"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// RunnerConfig tunes automation rule execution.
type RunnerConfig struct {
	// SuccessScore is the compliance score at or above which a run counts as
	// successful.
	SuccessScore float64
	// MaxBackoffFactor caps the adaptive schedule stretch applied to rules
	// that keep failing.
	MaxBackoffFactor int
}

// DefaultRunnerConfig returns the documented defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		SuccessScore:     80,
		MaxBackoffFactor: 8,
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runner executes single-purpose automation rules outside full workflows. A
// rule run is an execution of a one-step, dependency-free workflow: the
// runner reuses the same step handlers the workflow executor dispatches to.
// Runs are independent across rules and serialized per rule.
type Runner struct {
	rules      automation.Repository
	handlers   map[workflow.StepKind]workflowsvc.StepHandler
	alerts     *monitoringsvc.AlertManager
	metricsReg *metrics.Registry
	logger     *zap.Logger
	cfg        RunnerConfig

	// inFlight serializes runs per rule id: a rule must finish before its
	// own next scheduled run starts.
	inFlight sync.Map
}

// NewRunner creates an automation rule runner.
func NewRunner(rules automation.Repository, handlers map[workflow.StepKind]workflowsvc.StepHandler, alerts *monitoringsvc.AlertManager, metricsRegistry *metrics.Registry, logger *zap.Logger, cfg RunnerConfig) *Runner {
	return &Runner{
		rules:      rules,
		handlers:   handlers,
		alerts:     alerts,
		metricsReg: metricsRegistry,
		logger:     logger,
		cfg:        cfg,
	}
}

// ErrRuleBusy reports an attempted overlapping self-execution.
var ErrRuleBusy = errors.NewConflictError("automation rule is already running")

// ExecuteRule runs one automation rule now. Overlapping self-execution is
// rejected; concurrent runs of different rules proceed independently.
func (r *Runner) ExecuteRule(ctx context.Context, ruleID uuid.UUID) (*automation.ExecutionResult, error) {
	if _, loaded := r.inFlight.LoadOrStore(ruleID, struct{}{}); loaded {
		return nil, ErrRuleBusy
	}
	defer r.inFlight.Delete(ruleID)

	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, errors.NewBusinessError("RULE_INACTIVE", "automation rule is not active")
	}

	start := time.Now()
	result := r.runRule(ctx, rule)

	now := time.Now().UTC()
	if result.Success {
		rule.RecordSuccess(now)
	} else {
		rule.RecordFailure(now)
	}
	next := r.nextExecution(rule, now)
	rule.NextExecution = next
	if err := r.rules.UpdateStats(ctx, rule); err != nil {
		r.logger.Error("failed to update rule statistics",
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err))
	}

	if len(result.Findings) > 0 {
		r.forwardFindings(ctx, rule, result.Findings)
	}

	if r.metricsReg != nil {
		r.metricsReg.RecordAutomationRun(ctx, string(rule.Type), result.Success, time.Since(start))
	}
	r.logger.Info("automation rule executed",
		zap.String("rule_id", rule.ID.String()),
		zap.String("type", string(rule.Type)),
		zap.Bool("success", result.Success),
		zap.Float64("compliance_score", result.ComplianceScore),
		zap.Int("findings", len(result.Findings)))

	return result, nil
}

// runRule maps the rule onto a synthetic one-step workflow and executes it
// through the shared handler for its kind.
func (r *Runner) runRule(ctx context.Context, rule *automation.AutomationRule) *automation.ExecutionResult {
	result := &automation.ExecutionResult{
		RuleID:     rule.ID,
		ExecutedAt: time.Now().UTC(),
	}

	step, err := syntheticStep(rule)
	if err != nil {
		result.Findings = append(result.Findings, automation.Finding{
			Severity:    monitoring.SeverityMedium,
			Title:       "Automation rule misconfigured",
			Description: err.Error(),
		})
		return result
	}

	handler, ok := r.handlers[step.Kind()]
	if !ok {
		result.Findings = append(result.Findings, automation.Finding{
			Severity:    monitoring.SeverityMedium,
			Title:       "No handler for automation rule",
			Description: fmt.Sprintf("no handler registered for step kind %q", step.Kind()),
		})
		return result
	}

	exec := workflow.NewExecution(rule.ID, map[string]interface{}{"automation_rule": rule.ID.String()})
	stepResult, err := handler.Execute(ctx, step, exec)
	if err != nil {
		result.Findings = append(result.Findings, automation.Finding{
			Severity:    monitoring.SeverityHigh,
			Title:       fmt.Sprintf("Automation run failed for control %s", rule.ControlID),
			Description: err.Error(),
			Remediation: "Inspect the control's automated checks and re-run the rule",
		})
		return result
	}

	interpretStepResult(rule, stepResult, result)
	result.ComplianceScore = complianceScore(result.TestsPassed, result.TestsFailed)
	result.Success = result.ComplianceScore >= r.cfg.SuccessScore
	if !result.Success {
		result.Findings = append(result.Findings, automation.Finding{
			Severity:    monitoring.SeverityMedium,
			Title:       fmt.Sprintf("Compliance score below target for control %s", rule.ControlID),
			Description: fmt.Sprintf("score %.1f is below the required %.1f", result.ComplianceScore, r.cfg.SuccessScore),
			Remediation: "Review failing checks and update the control implementation",
		})
	}
	return result
}

// syntheticStep builds the one-step workflow body for a rule type.
func syntheticStep(rule *automation.AutomationRule) (workflow.WorkflowStep, error) {
	var params workflow.StepParams
	switch rule.Type {
	case automation.RuleTesting, automation.RuleMonitoring, automation.RuleRemediation:
		params = workflow.AutomatedTestParams{ControlID: rule.ControlID}
	case automation.RuleEvidenceCollection, automation.RuleReporting:
		params = workflow.EvidenceCollectionParams{ControlID: rule.ControlID, Sources: []string{"primary"}}
	default:
		return workflow.WorkflowStep{}, errors.NewValidationError("INVALID_RULE_TYPE", fmt.Sprintf("unknown automation rule type %q", rule.Type))
	}
	return workflow.WorkflowStep{
		ID:     "automation",
		Params: params,
	}, nil
}

func interpretStepResult(rule *automation.AutomationRule, stepResult workflow.StepResult, out *automation.ExecutionResult) {
	if passed, ok := stepResult.Data["tests_passed"].(int); ok {
		out.TestsPassed = passed
	}
	if failed, ok := stepResult.Data["tests_failed"].(int); ok {
		out.TestsFailed = failed
	}
	if evidence, ok := stepResult.Data["evidence"].([]string); ok {
		out.EvidenceCollected = evidence
	}
	if failures, ok := stepResult.Data["failures"].([]string); ok {
		for _, name := range failures {
			out.Findings = append(out.Findings, automation.Finding{
				Severity:    monitoring.SeverityMedium,
				Title:       fmt.Sprintf("Check failed: %s", name),
				Description: fmt.Sprintf("automated check %q failed for control %s", name, rule.ControlID),
				Remediation: "Investigate the failing check and remediate the control",
			})
		}
	}
}

// complianceScore is passed/(passed+failed) as a percentage. A run with no
// tests at all scores 100: evidence-only rules have nothing to fail.
func complianceScore(passed, failed int) float64 {
	total := passed + failed
	if total == 0 {
		return 100
	}
	return float64(passed) / float64(total) * 100
}

// forwardFindings converts findings into alerts on the alert manager's
// intake path. Findings have no store of their own.
func (r *Runner) forwardFindings(ctx context.Context, rule *automation.AutomationRule, findings []automation.Finding) {
	alerts := make([]*monitoring.ComplianceAlert, 0, len(findings))
	for _, f := range findings {
		alert := monitoring.NewAlert(
			rule.ID,
			monitoring.RuleControlFailure,
			f.Severity,
			f.Title,
			f.Description,
			map[string]interface{}{
				"automation_rule": rule.ID.String(),
				"rule_type":       string(rule.Type),
				"remediation":     f.Remediation,
			},
			[]string{rule.ControlID},
		)
		alerts = append(alerts, alert)
	}
	r.alerts.Intake(ctx, alerts)
}

// nextExecution computes the rule's next scheduled run. Rules that keep
// failing back off adaptively: three or more consecutive failures stretch the
// interval by doubling per extra failure, capped by config.
func (r *Runner) nextExecution(rule *automation.AutomationRule, from time.Time) *time.Time {
	schedule, err := cronParser.Parse(rule.Schedule)
	if err != nil {
		r.logger.Warn("unparseable rule schedule",
			zap.String("rule_id", rule.ID.String()),
			zap.String("schedule", rule.Schedule))
		return nil
	}

	next := schedule.Next(from)
	if rule.ConsecutiveFailures >= 3 {
		factor := 1 << (rule.ConsecutiveFailures - 2)
		if factor > r.cfg.MaxBackoffFactor {
			factor = r.cfg.MaxBackoffFactor
		}
		interval := schedule.Next(next).Sub(next)
		next = next.Add(interval * time.Duration(factor-1))
	}
	return &next
}
