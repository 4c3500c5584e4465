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
	"github.com/ordinaut/ordinaut/internal/eventbus"
	"github.com/ordinaut/ordinaut/internal/health"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	ctxlog "github.com/ordinaut/ordinaut/internal/log"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/pipeline"
	"github.com/ordinaut/ordinaut/internal/reaper"
	"github.com/ordinaut/ordinaut/internal/scheduler"
	"github.com/ordinaut/ordinaut/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
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

	logger.Info("db connected")

	taskRepo := postgres.NewTaskRepository(pool)
	dueWorkRepo := postgres.NewDueWorkRepository(pool)
	runRepo := postgres.NewTaskRunRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	heartbeatRepo := postgres.NewHeartbeatRepository(pool)
	locker := postgres.NewConcurrencyLocker(pool)

	heartbeatInterval := time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	heartbeatWindow := 3 * heartbeatInterval

	var redisPinger health.Pinger
	if cfg.EventBusURL != "" {
		sub, err := eventbus.New(cfg.EventBusURL, taskRepo, dueWorkRepo, logger)
		if err != nil {
			stop()
			log.Fatalf("event bus: %v", err)
		}
		go func() {
			if err := sub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event bus subscriber stopped", "error", err)
			}
		}()
		defer sub.Close()
		redisPinger = sub
		logger.Info("event bus subscriber started")
	}

	metrics.Register()

	sched := scheduler.New(taskRepo, dueWorkRepo, logger, time.Duration(cfg.SchedulerIntervalSec)*time.Second)
	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	invoker := pipeline.NewHTTPToolInvoker()
	executor := pipeline.NewExecutor(invoker, logger)

	runtime := worker.New(
		dueWorkRepo,
		taskRepo,
		runRepo,
		auditRepo,
		locker,
		executor,
		heartbeatRepo,
		logger,
		worker.Config{
			Concurrency:   cfg.WorkerConcurrency,
			PollInterval:  time.Second,
			LeaseDuration: time.Duration(cfg.LeaseDurationSeconds) * time.Second,
		},
	)
	go runtime.Start(ctx)

	rp := reaper.New(
		runRepo,
		dueWorkRepo,
		taskRepo,
		heartbeatRepo,
		auditRepo,
		time.Duration(cfg.ReaperIntervalSeconds)*time.Second,
		heartbeatWindow,
		logger,
	)
	go rp.Start(ctx)

	checkerOpts := []health.Option{
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
	}
	if redisPinger != nil {
		checkerOpts = append(checkerOpts, health.WithRedis(redisPinger))
	}
	checker := health.NewChecker(pool, heartbeatRepo, heartbeatWindow, logger, prometheus.DefaultRegisterer, checkerOpts...)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
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
