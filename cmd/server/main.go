package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/health"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	ctxlog "github.com/ordinaut/ordinaut/internal/log"
	"github.com/ordinaut/ordinaut/internal/metrics"
	httptransport "github.com/ordinaut/ordinaut/internal/transport/http"
	"github.com/ordinaut/ordinaut/internal/transport/http/handler"
	"github.com/ordinaut/ordinaut/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Printf("db: %v", err)
		os.Exit(2)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRepository(pool)
	runRepo := postgres.NewTaskRunRepository(pool)
	agentRepo := postgres.NewAgentRepository(pool)
	heartbeatRepo := postgres.NewHeartbeatRepository(pool)
	dueWorkRepo := postgres.NewDueWorkRepository(pool)

	taskUsecase := usecase.NewTaskUsecase(taskRepo)
	runUsecase := usecase.NewRunUsecase(runRepo, taskRepo)

	taskHandler := handler.NewTaskHandler(taskUsecase, logger)
	runHandler := handler.NewRunHandler(runUsecase, logger)

	metrics.Register()

	heartbeatWindow := 3 * time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	checker := health.NewChecker(pool, heartbeatRepo, heartbeatWindow, logger, prometheus.DefaultRegisterer,
		health.WithSchedulerLag(5*time.Duration(cfg.SchedulerIntervalSec)*time.Second, func(checkCtx context.Context) (float64, bool) {
			oldest, found, err := dueWorkRepo.OldestRunAt(checkCtx)
			if err != nil || !found {
				return 0, false
			}
			lag := time.Since(oldest).Seconds()
			if lag < 0 {
				lag = 0
			}
			return lag, true
		}),
	)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, runHandler, agentRepo, checker, []byte(cfg.JWTSecretKey)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, nil)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
