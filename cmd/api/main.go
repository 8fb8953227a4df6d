package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/api/rest"
	"github.com/grcops/compliance-core/internal/infrastructure/cache"
	"github.com/grcops/compliance-core/internal/infrastructure/config"
	"github.com/grcops/compliance-core/internal/infrastructure/database"
	"github.com/grcops/compliance-core/internal/infrastructure/events"
	"github.com/grcops/compliance-core/internal/infrastructure/notification"
	"github.com/grcops/compliance-core/internal/infrastructure/oracle"
	"github.com/grcops/compliance-core/internal/infrastructure/scheduler"
	"github.com/grcops/compliance-core/internal/infrastructure/telemetry"
	"github.com/grcops/compliance-core/internal/metrics"
	automationsvc "github.com/grcops/compliance-core/internal/service/automation"
	monitoringsvc "github.com/grcops/compliance-core/internal/service/monitoring"
	"github.com/grcops/compliance-core/internal/service/orchestrator"
	risksvc "github.com/grcops/compliance-core/internal/service/risk"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	provider, err := telemetry.Setup(ctx, telCfg)
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	metricsReg, err := metrics.NewRegistry("compliance-core")
	if err != nil {
		logger.Fatal("failed to create metrics registry", zap.Error(err))
	}

	pool, err := database.Connect(ctx, &cfg.Database, logger.Named("database"))
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer pool.Close()

	redisCache, err := cache.New(ctx, &cfg.Redis, logger.Named("cache"))
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	// Repositories and stores.
	defRepo := database.NewDefinitionRepository(pool)
	execRepo := database.NewExecutionRepository(pool)
	ruleRepo := database.NewRuleRepository(pool)
	alertRepo := database.NewAlertRepository(pool)
	autoRepo := database.NewAutomationRepository(pool)
	riskRepo := database.NewRiskRepository(pool)
	metricStore := database.NewMetricStore(pool)

	// External capabilities.
	oracleClient := oracle.NewClient(&cfg.Oracle, metricsReg, logger.Named("oracle"))
	notifier := notification.NewLogNotifier(logger)

	// Workflow machinery.
	registry := workflowsvc.NewRegistry(defRepo, logger.Named("workflow.registry"))
	handlers := workflowsvc.DefaultHandlers(metricStore, oracleClient, notifier, logger.Named("workflow.handlers"))
	executor := workflowsvc.NewExecutor(registry, execRepo, handlers, metricsReg,
		logger.Named("workflow.executor"), workflowsvc.ExecutorConfig{
			DefaultStepTimeout: cfg.Workflow.DefaultStepTimeout,
			MaxRetryDelay:      cfg.Workflow.MaxRetryDelay,
		})
	executor.SetBaseContext(ctx)

	// Monitoring.
	stream := events.NewAlertStream(logger.Named("events"), events.DefaultStreamConfig())
	alertManager := monitoringsvc.NewAlertManager(alertRepo, stream, logger.Named("monitoring.alerts"))
	evaluator := monitoringsvc.NewEvaluator(monitoringsvc.EvaluatorConfig{
		AnomalyThreshold:   cfg.Monitoring.AnomalyThreshold,
		DriftThresholdPts:  cfg.Monitoring.DriftThresholdPts,
		DriftHighPts:       cfg.Monitoring.DriftHighPts,
		FailureThreshold:   cfg.Monitoring.FailureThreshold,
		FailureWindowDays:  cfg.Monitoring.FailureWindowDays,
		CriticalReadiness:  cfg.Monitoring.CriticalReadiness,
		AnomalyHistoryDays: 7,
	})
	monitor := monitoringsvc.NewMonitorService(ruleRepo, metricStore, evaluator, alertManager,
		metricsReg, logger.Named("monitoring"))
	if redisCache != nil {
		monitor.SetDeduper(redisCache, time.Hour)
	}

	// Automation.
	runner := automationsvc.NewRunner(autoRepo, handlers, alertManager, metricsReg,
		logger.Named("automation"), automationsvc.RunnerConfig{
			SuccessScore:     cfg.Automation.SuccessScore,
			MaxBackoffFactor: cfg.Automation.MaxBackoffFactor,
		})

	// Risk.
	riskService := risksvc.NewService(riskRepo, risksvc.NewScorer(), logger.Named("risk"))

	// Orchestrator façade.
	var dashCache orchestrator.DashboardCache
	if redisCache != nil {
		dashCache = redisCache
	}
	orch := orchestrator.NewService(registry, executor, runner, monitor, alertManager,
		riskService, riskRepo, dashCache, logger.Named("orchestrator"), orchestrator.Config{})

	// Triggers.
	sched := scheduler.New(defRepo, autoRepo, orch, logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	go func() {
		if err := monitor.Start(ctx); err != nil {
			logger.Error("monitoring stopped", zap.Error(err))
		}
	}()

	server := rest.NewServer(&cfg.Server, orch, registry, sched, stream, metricsHandler(),
		logger.Named("http"))
	server.Use(instrument)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	executor.Drain()
	stream.Close()
	logger.Info("shutdown complete")
}
