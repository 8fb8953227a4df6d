package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the orchestration core.
type Registry struct {
	meter metric.Meter

	// Workflow metrics
	ExecutionDuration metric.Float64Histogram
	ExecutionsTotal   metric.Int64Counter
	StepRetriesTotal  metric.Int64Counter
	ActiveExecutions  metric.Int64ObservableGauge

	// Monitoring metrics
	RuleEvaluationDuration metric.Float64Histogram
	AlertsRaisedTotal      metric.Int64Counter

	// Automation metrics
	AutomationRunsTotal   metric.Int64Counter
	AutomationRunDuration metric.Float64Histogram

	// Oracle metrics
	OracleCallDuration metric.Float64Histogram
	OracleFailures     metric.Int64Counter

	// State for observable metrics
	mu               sync.RWMutex
	activeExecutions int64
}

// NewRegistry creates a metrics registry with all domain metrics.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	var err error
	r.ExecutionDuration, err = r.meter.Float64Histogram(
		"grc.workflow.execution_duration",
		metric.WithDescription("End-to-end workflow execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	r.ExecutionsTotal, err = r.meter.Int64Counter(
		"grc.workflow.executions_total",
		metric.WithDescription("Workflow executions by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	r.StepRetriesTotal, err = r.meter.Int64Counter(
		"grc.workflow.step_retries_total",
		metric.WithDescription("Step retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	r.ActiveExecutions, err = r.meter.Int64ObservableGauge(
		"grc.workflow.active_executions",
		metric.WithDescription("Executions currently running or suspended"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeExecutions)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	r.RuleEvaluationDuration, err = r.meter.Float64Histogram(
		"grc.monitoring.rule_evaluation_duration",
		metric.WithDescription("Monitoring rule evaluation duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	r.AlertsRaisedTotal, err = r.meter.Int64Counter(
		"grc.monitoring.alerts_raised_total",
		metric.WithDescription("Alerts raised by rule type"),
	)
	if err != nil {
		return nil, err
	}

	r.AutomationRunsTotal, err = r.meter.Int64Counter(
		"grc.automation.runs_total",
		metric.WithDescription("Automation rule runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	r.AutomationRunDuration, err = r.meter.Float64Histogram(
		"grc.automation.run_duration",
		metric.WithDescription("Automation rule run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	r.OracleCallDuration, err = r.meter.Float64Histogram(
		"grc.oracle.call_duration",
		metric.WithDescription("Assessment oracle call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	r.OracleFailures, err = r.meter.Int64Counter(
		"grc.oracle.failures_total",
		metric.WithDescription("Assessment oracle call failures"),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordExecutionStarted increments the active execution gauge.
func (r *Registry) RecordExecutionStarted() {
	r.mu.Lock()
	r.activeExecutions++
	r.mu.Unlock()
}

// RecordExecutionFinished records a terminal (or suspended) outcome.
func (r *Registry) RecordExecutionFinished(ctx context.Context, status string, duration time.Duration) {
	r.mu.Lock()
	if r.activeExecutions > 0 {
		r.activeExecutions--
	}
	r.mu.Unlock()

	r.ExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	r.ExecutionDuration.Record(ctx, duration.Seconds())
}

// RecordStepRetry counts one retry attempt for a step kind.
func (r *Registry) RecordStepRetry(ctx context.Context, stepKind string) {
	r.StepRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", stepKind)))
}

// RecordRuleEvaluation records one monitoring rule cycle.
func (r *Registry) RecordRuleEvaluation(ctx context.Context, ruleType string, duration time.Duration, alertCount int) {
	r.RuleEvaluationDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("rule_type", ruleType)))
	if alertCount > 0 {
		r.AlertsRaisedTotal.Add(ctx, int64(alertCount),
			metric.WithAttributes(attribute.String("rule_type", ruleType)))
	}
}

// RecordAutomationRun records one automation rule run.
func (r *Registry) RecordAutomationRun(ctx context.Context, ruleType string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	r.AutomationRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_type", ruleType),
		attribute.String("outcome", outcome)))
	r.AutomationRunDuration.Record(ctx, duration.Seconds())
}

// RecordOracleCall records one assessment oracle round trip.
func (r *Registry) RecordOracleCall(ctx context.Context, duration time.Duration, err error) {
	r.OracleCallDuration.Record(ctx, duration.Seconds())
	if err != nil {
		r.OracleFailures.Add(ctx, 1)
	}
}
