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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/console/handler"
	"github.com/20SB/saba/internal/console/server"
	"github.com/20SB/saba/internal/console/service"
	"github.com/20SB/saba/internal/infra"
	"github.com/20SB/saba/internal/infra/auth"
	"github.com/20SB/saba/internal/repository/postgres"
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

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancelInit := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewAgentRepo(ctx, cfg.Database)
	cancelInit()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	// 3. Ключи RS256: консоль подписывает приватным, проверяет публичным
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(repo, privateKey)
	agentService := service.NewAgentService(rdb, repo, validator, logger)
	transitionService := service.NewTransitionService(repo)

	srv := server.NewConsoleServer(
		cfg,
		logger,
		agentService,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService),
		handler.NewApprovalHandler(agentService),
		handler.NewDashboardHandler(agentService),
		handler.NewTransitionHandler(transitionService),
	)

	// 5. Запуск сервера
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Console API stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("Console API exited properly")
}
