package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/workflow"
	"github.com/grcops/compliance-core/internal/metrics"
)

// ExecutorConfig bounds step execution and retry behavior.
type ExecutorConfig struct {
	// DefaultStepTimeout applies to steps that declare none.
	DefaultStepTimeout time.Duration
	// MaxRetryDelay caps backoff regardless of a step's own policy.
	MaxRetryDelay time.Duration
}

// DefaultExecutorConfig returns production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultStepTimeout: 5 * time.Minute,
		MaxRetryDelay:      5 * time.Minute,
	}
}

// Executor runs workflow executions. Executions are independent units of
// work: many may run concurrently, each owning its own record, while steps
// inside one execution run strictly in dependency order.
type Executor struct {
	registry   *Registry
	execs      workflow.ExecutionRepository
	handlers   map[workflow.StepKind]StepHandler
	metricsReg *metrics.Registry
	logger     *zap.Logger
	cfg        ExecutorConfig

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewExecutor creates a workflow executor.
func NewExecutor(registry *Registry, execs workflow.ExecutionRepository, handlers map[workflow.StepKind]StepHandler, metricsRegistry *metrics.Registry, logger *zap.Logger, cfg ExecutorConfig) *Executor {
	return &Executor{
		registry:   registry,
		execs:      execs,
		handlers:   handlers,
		metricsReg: metricsRegistry,
		logger:     logger,
		cfg:        cfg,
		sleep:      sleepCtx,
		baseCtx:    context.Background(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetBaseContext sets the context step goroutines derive from, typically the
// process lifetime context. Cancelling it stops executions at the next step
// boundary with their state persisted.
func (e *Executor) SetBaseContext(ctx context.Context) {
	e.baseCtx = ctx
}

// Execute launches an execution of the definition asynchronously and returns
// its handle immediately.
func (e *Executor) Execute(ctx context.Context, definitionID uuid.UUID, trigger map[string]interface{}) (uuid.UUID, error) {
	def, err := e.registry.Get(ctx, definitionID)
	if err != nil {
		return uuid.Nil, err
	}

	exec := workflow.NewExecution(def.ID, trigger)
	if err := e.execs.Save(ctx, exec); err != nil {
		return uuid.Nil, err
	}

	e.logger.Info("execution launched",
		zap.String("execution_id", exec.ID.String()),
		zap.String("definition_id", def.ID.String()),
		zap.String("workflow", def.Name))

	if e.metricsReg != nil {
		e.metricsReg.RecordExecutionStarted()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.baseCtx, def, exec)
	}()
	return exec.ID, nil
}

// GetStatus returns the current execution record.
func (e *Executor) GetStatus(ctx context.Context, executionID uuid.UUID) (*workflow.WorkflowExecution, error) {
	return e.execs.GetByID(ctx, executionID)
}

// Cancel marks an execution cancelled. The executor treats the state as
// terminal and runs no further steps once it observes it.
func (e *Executor) Cancel(ctx context.Context, executionID uuid.UUID, reason string) error {
	exec, err := e.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if err := exec.Cancel(reason); err != nil {
		return err
	}
	return e.execs.Save(ctx, exec)
}

// Resume applies a human approval decision to a waiting execution and
// continues from the first unexecuted step, not from the beginning.
func (e *Executor) Resume(ctx context.Context, executionID uuid.UUID, decision workflow.ApprovalDecision) error {
	exec, err := e.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if err := exec.Resume(decision); err != nil {
		return err
	}
	if err := e.execs.Save(ctx, exec); err != nil {
		return err
	}
	if exec.Status.Terminal() {
		// Rejected: nothing left to run.
		return nil
	}

	def, err := e.registry.Get(ctx, exec.DefinitionID)
	if err != nil {
		return err
	}

	e.logger.Info("execution resumed",
		zap.String("execution_id", exec.ID.String()),
		zap.String("approver", decision.Approver),
		zap.Bool("approved", decision.Approved))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.baseCtx, def, exec)
	}()
	return nil
}

// Drain waits for in-flight executions to reach a persisted state.
func (e *Executor) Drain() {
	e.wg.Wait()
}

// run drives one execution to a terminal or suspended state. Every status
// change and step result is persisted before the loop moves on, so a crash
// leaves a resumable, inspectable record. Errors inside this execution never
// touch sibling executions.
func (e *Executor) run(ctx context.Context, def *workflow.WorkflowDefinition, exec *workflow.WorkflowExecution) {
	start := time.Now()

	if exec.Status == workflow.ExecutionPending {
		if err := exec.Start(); err != nil {
			e.logger.Error("failed to start execution", zap.String("execution_id", exec.ID.String()), zap.Error(err))
			return
		}
		if err := e.persist(ctx, exec, "execution start"); err != nil {
			return
		}
	}

	ordered, err := def.TopologicalOrder()
	if err != nil {
		// Unreachable for registered definitions; registration validates.
		e.finish(ctx, exec, start)
		return
	}

	for _, step := range ordered {
		if exec.Executed(step.ID) {
			continue
		}

		// An external supervisor may have cancelled the execution since the
		// last step; re-read before doing more work.
		current, err := e.execs.GetByID(ctx, exec.ID)
		if err == nil && current.Status == workflow.ExecutionCancelled {
			e.logger.Info("execution cancelled externally, halting",
				zap.String("execution_id", exec.ID.String()))
			return
		}

		if !exec.DependenciesMet(step) {
			skipped := workflow.StepResult{
				StepID:      step.ID,
				Status:      workflow.StepSkipped,
				StartedAt:   time.Now().UTC(),
				CompletedAt: time.Now().UTC(),
			}
			if err := e.recordAndSave(ctx, exec, skipped); err != nil {
				return
			}
			continue
		}

		result, stepErr := e.runStepWithRetry(ctx, step, exec)
		if stepErr == ErrApprovalRequired {
			if err := exec.Suspend(step.ID); err != nil {
				e.logger.Error("failed to suspend execution", zap.String("execution_id", exec.ID.String()), zap.Error(err))
				return
			}
			if err := e.persist(ctx, exec, "suspension"); err != nil {
				return
			}
			if e.metricsReg != nil {
				e.metricsReg.RecordExecutionFinished(ctx, string(workflow.ExecutionWaitingApproval), time.Since(start))
			}
			return
		}

		if err := e.recordAndSave(ctx, exec, result); err != nil {
			return
		}

		if stepErr != nil {
			// Retries exhausted: fail fast, no further steps run.
			detail := fmt.Sprintf("step %s failed after %d attempts: %v", step.ID, result.Attempts, stepErr)
			if err := exec.Fail(detail); err == nil {
				if err := e.persist(ctx, exec, "failure"); err != nil {
					return
				}
			}
			e.logger.Warn("execution failed",
				zap.String("execution_id", exec.ID.String()),
				zap.String("step_id", step.ID),
				zap.Error(stepErr))
			if e.metricsReg != nil {
				e.metricsReg.RecordExecutionFinished(ctx, string(workflow.ExecutionFailed), time.Since(start))
			}
			return
		}

		// Confidence gating: a low-confidence automated result suspends the
		// execution pending a human decision on the next step.
		if result.Confidence != nil && *result.Confidence < def.Approval.ConfidenceThreshold {
			// The gating step already has a success result; suspension waits
			// for a decision before anything further runs.
			if err := exec.Suspend(step.ID); err == nil {
				if err := e.persist(ctx, exec, "confidence suspension"); err != nil {
					return
				}
			}
			e.logger.Info("execution suspended on low confidence",
				zap.String("execution_id", exec.ID.String()),
				zap.String("step_id", step.ID),
				zap.Float64("confidence", *result.Confidence),
				zap.Float64("threshold", def.Approval.ConfidenceThreshold))
			if e.metricsReg != nil {
				e.metricsReg.RecordExecutionFinished(ctx, string(workflow.ExecutionWaitingApproval), time.Since(start))
			}
			return
		}
	}

	if err := exec.Complete(); err != nil {
		e.logger.Error("failed to complete execution", zap.String("execution_id", exec.ID.String()), zap.Error(err))
		return
	}
	if err := e.persist(ctx, exec, "completion"); err != nil {
		return
	}
	e.logger.Info("execution completed",
		zap.String("execution_id", exec.ID.String()),
		zap.Duration("duration", time.Since(start)))
	if e.metricsReg != nil {
		e.metricsReg.RecordExecutionFinished(ctx, string(workflow.ExecutionCompleted), time.Since(start))
	}
}

func (e *Executor) finish(ctx context.Context, exec *workflow.WorkflowExecution, start time.Time) {
	if err := exec.Fail("definition invalid at run time"); err == nil {
		_ = e.execs.Save(ctx, exec)
	}
	if e.metricsReg != nil {
		e.metricsReg.RecordExecutionFinished(ctx, string(workflow.ExecutionFailed), time.Since(start))
	}
}

func (e *Executor) recordAndSave(ctx context.Context, exec *workflow.WorkflowExecution, result workflow.StepResult) error {
	if err := exec.RecordStepResult(result); err != nil {
		e.logger.Error("failed to record step result",
			zap.String("execution_id", exec.ID.String()),
			zap.String("step_id", result.StepID),
			zap.Error(err))
		return err
	}
	return e.persist(ctx, exec, "step result")
}

// persist saves the execution record. A conflict means an external
// supervisor finalized the record while this goroutine was working; callers
// halt without overwriting the stored terminal status.
func (e *Executor) persist(ctx context.Context, exec *workflow.WorkflowExecution, what string) error {
	err := e.execs.Save(ctx, exec)
	if err == nil {
		return nil
	}
	if domainerrors.Code(err) == "CONFLICT" {
		e.logger.Info("execution finalized externally, halting",
			zap.String("execution_id", exec.ID.String()),
			zap.String("during", what))
		return err
	}
	e.logger.Error("failed to persist "+what,
		zap.String("execution_id", exec.ID.String()),
		zap.Error(err))
	return err
}

// runStepWithRetry invokes the step's handler, retrying failed attempts per
// the step's policy with delay = base * backoff^attempt capped at the
// configured maximum. The returned result always carries the attempt count;
// a non-nil error means retries are exhausted.
func (e *Executor) runStepWithRetry(ctx context.Context, step workflow.WorkflowStep, exec *workflow.WorkflowExecution) (workflow.StepResult, error) {
	handler, ok := e.handlers[step.Kind()]
	if !ok {
		// Unreachable for registered definitions.
		return workflow.StepResult{
			StepID:      step.ID,
			Status:      workflow.StepFailed,
			Attempts:    0,
			Error:       fmt.Sprintf("no handler for step kind %q", step.Kind()),
			StartedAt:   time.Now().UTC(),
			CompletedAt: time.Now().UTC(),
		}, domainerrors.NewStepExecutionError(step.ID, "no handler registered")
	}

	maxAttempts := 1
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxRetries + 1
	}

	started := time.Now().UTC()
	var lastErr error
	invocations := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := step.Retry.Delay(attempt - 1)
			if e.cfg.MaxRetryDelay > 0 && delay > e.cfg.MaxRetryDelay {
				delay = e.cfg.MaxRetryDelay
			}
			if e.metricsReg != nil {
				e.metricsReg.RecordStepRetry(ctx, string(step.Kind()))
			}
			e.logger.Debug("retrying step",
				zap.String("execution_id", exec.ID.String()),
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		timeout := step.Timeout
		if timeout == 0 {
			timeout = e.cfg.DefaultStepTimeout
		}
		stepCtx, cancel := context.WithTimeout(ctx, timeout)

		invocations++
		result, err := handler.Execute(stepCtx, step, exec)
		cancel()

		if err == ErrApprovalRequired {
			return workflow.StepResult{}, ErrApprovalRequired
		}
		if err == nil {
			result.StepID = step.ID
			result.Attempts = invocations
			result.StartedAt = started
			result.CompletedAt = time.Now().UTC()
			return result, nil
		}
		lastErr = err
	}

	// Attempts reflects how many times the handler actually ran; an aborted
	// backoff wait ends the loop before maxAttempts is reached.
	return workflow.StepResult{
		StepID:      step.ID,
		Status:      workflow.StepFailed,
		Attempts:    invocations,
		Error:       lastErr.Error(),
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}, lastErr
}
