package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/app"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/logger"
	"github.com/radieske/prediction-rounds/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "settlement-worker"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollectors(prometheus.DefaultRegisterer)
	core, err := app.Wire(ctx, cfg, log, m)
	if err != nil {
		log.Fatal("wire failed", zap.Error(err))
	}
	defer core.Close()

	sched, err := core.NewScheduler(m)
	if err != nil {
		log.Fatal("scheduler config", zap.Error(err))
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, core.HealthChecks()...)

	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler start", zap.Error(err))
	}
	log.Info("settlement worker running",
		zap.Duration("interval", cfg.SchedulerInterval),
		zap.Duration("buffer", cfg.ResolveBufferDelay),
		zap.Strings("auto_create", cfg.AutoCreateModes))

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", zap.Error(err))
		os.Exit(1)
	}
}
