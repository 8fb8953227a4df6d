package scheduler

import (
	"context"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/automation"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

// TriggerSink receives resolved trigger firings. Implemented by the
// orchestrator service.
type TriggerSink interface {
	Fire(ctx context.Context, id uuid.UUID, payload map[string]interface{}) error
}

// Scheduler owns the cron runtime. At startup it registers every scheduled
// workflow definition and active automation rule; event-triggered definitions
// fire through Dispatch.
type Scheduler struct {
	defs    workflow.DefinitionRepository
	rules   automation.Repository
	sink    TriggerSink
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New creates a scheduler.
func New(defs workflow.DefinitionRepository, rules automation.Repository, sink TriggerSink, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		defs:    defs,
		rules:   rules,
		sink:    sink,
		cron:    cron.New(),
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Start registers all schedules and starts the cron runtime. The given
// context becomes the parent of every fired trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	defs, err := s.defs.ListScheduled(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := s.addEntry(def.ID, def.Trigger.CronExpr, "workflow", def.Name); err != nil {
			return err
		}
	}

	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := s.addEntry(rule.ID, rule.Schedule, "automation_rule", rule.ControlID); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Int("workflows", len(defs)),
		zap.Int("automation_rules", len(rules)))
	return nil
}

func (s *Scheduler) addEntry(id uuid.UUID, expr, kind, name string) error {
	_, err := s.cron.AddFunc(expr, func() {
		if err := s.sink.Fire(s.baseCtx, id, map[string]interface{}{
			"source": "schedule",
			"cron":   expr,
		}); err != nil {
			s.logger.Warn("scheduled trigger failed",
				zap.String("id", id.String()),
				zap.String("kind", kind),
				zap.Error(err))
		}
	})
	if err != nil {
		s.logger.Error("failed to register schedule",
			zap.String("id", id.String()),
			zap.String("kind", kind),
			zap.String("name", name),
			zap.String("cron", expr),
			zap.Error(err))
		return err
	}
	return nil
}

// Dispatch fires every event-triggered workflow subscribed to the event.
func (s *Scheduler) Dispatch(ctx context.Context, event string, payload map[string]interface{}) error {
	defs, err := s.defs.ListByEvent(ctx, event)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["source"] = "event"
	payload["event"] = event

	for _, def := range defs {
		if err := s.sink.Fire(ctx, def.ID, payload); err != nil {
			s.logger.Warn("event trigger failed",
				zap.String("definition_id", def.ID.String()),
				zap.String("event", event),
				zap.Error(err))
		}
	}
	s.logger.Info("event dispatched",
		zap.String("event", event),
		zap.Int("workflows", len(defs)))
	return nil
}

// Stop halts the cron runtime and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
