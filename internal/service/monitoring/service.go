package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/metrics"
)

// Deduper suppresses alerts whose fingerprint was raised recently. Two
// evaluations of the same rule over an unchanged snapshot produce the same
// fingerprint, so only the first alert inside the TTL window gets through.
type Deduper interface {
	SeenFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) bool
}

// MonitorService runs each active monitoring rule on its own cadence. Rule
// evaluation only reads the metric store; it never touches workflow state and
// is never blocked by workflow execution.
type MonitorService struct {
	rules     monitoring.RuleRepository
	store     monitoring.MetricStore
	evaluator *Evaluator
	alerts    *AlertManager
	registry  *metrics.Registry
	logger    *zap.Logger

	dedupe    Deduper
	dedupeTTL time.Duration

	// refreshEvery is how often the active rule set is re-listed so rules
	// created or toggled after startup get picked up without a restart.
	refreshEvery time.Duration

	mu      sync.Mutex
	loops   map[string]context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewMonitorService creates the monitoring loop supervisor.
func NewMonitorService(rules monitoring.RuleRepository, store monitoring.MetricStore, evaluator *Evaluator, alerts *AlertManager, registry *metrics.Registry, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		rules:        rules,
		store:        store,
		evaluator:    evaluator,
		alerts:       alerts,
		registry:     registry,
		logger:       logger,
		refreshEvery: time.Minute,
		loops:        make(map[string]context.CancelFunc),
	}
}

// SetDeduper enables fingerprint-based alert suppression. A nil deduper
// leaves every alert through.
func (s *MonitorService) SetDeduper(d Deduper, ttl time.Duration) {
	s.dedupe = d
	s.dedupeTTL = ttl
}

// Start launches one evaluation loop per active rule and blocks until ctx is
// cancelled. Each rule runs independently: a failing rule never stalls its
// siblings. The active set is re-listed periodically so rules created or
// toggled after startup join or leave without a restart.
func (s *MonitorService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return err
	}
	s.logger.Info("monitoring started", zap.Int("rules", s.loopCount()))

	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.logger.Warn("rule refresh failed, keeping current loops", zap.Error(err))
			}
		}
	}
}

func (s *MonitorService) loopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// refresh reconciles running loops against the stored active rule set:
// unseen rules get a loop, deactivated ones have theirs cancelled.
func (s *MonitorService) refresh(ctx context.Context) error {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		active[rule.ID.String()] = struct{}{}
	}

	s.mu.Lock()
	var stale []string
	for id, cancel := range s.loops {
		if _, ok := active[id]; !ok {
			cancel()
			delete(s.loops, id)
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.logger.Info("monitoring loop stopped, rule deactivated", zap.String("rule_id", id))
	}

	for _, rule := range rules {
		s.mu.Lock()
		_, running := s.loops[rule.ID.String()]
		s.mu.Unlock()
		if running {
			continue
		}
		s.startLoop(ctx, rule)
		s.logger.Info("monitoring loop started",
			zap.String("rule_id", rule.ID.String()),
			zap.String("rule_type", string(rule.Type())))
	}
	return nil
}

func (s *MonitorService) startLoop(ctx context.Context, rule *monitoring.MonitoringRule) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.loops[rule.ID.String()] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(rule.CheckFrequency)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.EvaluateRule(loopCtx, rule)
			}
		}
	}()
}

// EvaluateRule runs one evaluation cycle for one rule. Evaluation errors are
// logged and the cycle is skipped; the loop keeps its cadence.
func (s *MonitorService) EvaluateRule(ctx context.Context, rule *monitoring.MonitoringRule) {
	start := time.Now()

	snapshot, err := s.store.Snapshot(ctx, rule.ControlIDs, rule.FrameworkID)
	if err != nil {
		s.logger.Warn("metric snapshot failed, skipping rule cycle",
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err))
		return
	}

	alerts, err := s.evaluator.Evaluate(rule, snapshot)
	if err != nil {
		s.logger.Warn("rule evaluation failed, skipping cycle",
			zap.String("rule_id", rule.ID.String()),
			zap.String("rule_type", string(rule.Type())),
			zap.Error(err))
		return
	}

	if s.registry != nil {
		s.registry.RecordRuleEvaluation(ctx, string(rule.Type()), time.Since(start), len(alerts))
	}
	if len(alerts) == 0 {
		return
	}
	if s.dedupe != nil {
		fresh := alerts[:0]
		for _, alert := range alerts {
			if s.dedupe.SeenFingerprint(ctx, alert.Fingerprint(), s.dedupeTTL) {
				s.logger.Debug("suppressing duplicate alert",
					zap.String("rule_id", rule.ID.String()),
					zap.String("title", alert.Title))
				continue
			}
			fresh = append(fresh, alert)
		}
		alerts = fresh
	}
	if len(alerts) == 0 {
		return
	}
	s.alerts.Intake(ctx, alerts)
}
