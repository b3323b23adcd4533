package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/approval"
	"github.com/20SB/saba/internal/audit"
	"github.com/20SB/saba/internal/deploy"
	"github.com/20SB/saba/internal/infra"
	"github.com/20SB/saba/internal/lifecycle"
	"github.com/20SB/saba/internal/monitor"
	"github.com/20SB/saba/internal/notify"
	"github.com/20SB/saba/internal/orchestrator"
	"github.com/20SB/saba/internal/planner"
	"github.com/20SB/saba/internal/recovery"
	"github.com/20SB/saba/internal/repository/postgres"
	"github.com/20SB/saba/internal/risk"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин.
	// SIGTERM останавливает диспетчер, подписчиков и сессии мониторинга.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewAgentRepo(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	// 3. Аудит переходов (асинхронный батч-писатель)
	tlog := audit.NewTransitionLog(repo, logger, cfg.Transition.BufferSize, cfg.Transition.FlushInterval)
	tlog.Start()
	defer tlog.Stop()

	notifier := notify.NewRedisNotifier(rdb, logger)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()

	// 5. Ядро жизненного цикла
	states := lifecycle.NewStateMachine(repo, tlog, logger)

	gate := approval.NewGate(repo, notifier, logger,
		cfg.Approval.PollInterval, cfg.Approval.WaitTimeout,
		approval.WithWaitMetric(metrics.ApprovalWaitSeconds))

	// Docker опционален: без него доступны только локальные процессы
	var runtime deploy.ContainerRuntime
	if dr, err := deploy.NewDockerRuntime(cfg.Deploy.DockerHost); err != nil {
		logger.Warn("docker unavailable, container deployments disabled", zap.Error(err))
	} else {
		runtime = deploy.NewReliableRuntime(dr)
	}
	deployer := deploy.NewManager(repo, runtime, cfg.Deploy, logger)

	recoveryEngine := recovery.NewEngine(states, deployer, repo, notifier, logger,
		cfg.Recovery.MaxAttempts, cfg.Recovery.RedeployDelay,
		recovery.WithMetric(metrics.RecoveryAttemptsTotal))

	monitorEngine := monitor.NewEngine(deployer, recoveryEngine, notifier, logger,
		cfg.Monitor.DefaultInterval, cfg.Monitor.ErrorThreshold,
		monitor.WithMetrics(metrics.HealthChecksTotal, metrics.MonitorSessions))

	// 6. Коллабораторы pipeline (статические реализации вместо LLM)
	plnr := planner.NewStatic(logger)
	gen := planner.NewGenerator(cfg.Deploy.Workspace, logger)
	valid := planner.NewValidator(cfg.Deploy.Workspace, logger)
	analyzer := risk.NewAnalyzer(logger)

	// 7. Воркфлоу и диспетчер команд
	workflow := orchestrator.NewWorkflow(repo, states, gate, deployer,
		monitorEngine, recoveryEngine, plnr, gen, valid, analyzer, notifier, logger, metrics)
	dispatcher := orchestrator.NewDispatcher(rdb, workflow, logger, metrics)

	go dispatcher.Run(appCtx)
	logger.Info("orchestrator started",
		zap.String("redis", cfg.Redis.Addr),
		zap.String("workspace", cfg.Deploy.Workspace))

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("orchestrator stopping...")
	cancel()

	// Даем фоновым pipeline шанс дойти до устойчивого состояния
	done := make(chan struct{})
	go func() {
		workflow.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timeout, abandoning in-flight pipelines")
	}

	monitorEngine.StopAll()
	logger.Info("orchestrator exited properly")
}
