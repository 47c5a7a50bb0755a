package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/prediction-rounds/internal/app"
	httpapi "github.com/radieske/prediction-rounds/internal/round-service/http"
	"github.com/radieske/prediction-rounds/internal/round-service/ws"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/logger"
	"github.com/radieske/prediction-rounds/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "round-service"
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

	// com Redis as atualizações chegam pelo canal de broadcast (vindas de
	// qualquer réplica ou do worker); sem Redis o hub recebe direto do fanout
	hub := ws.NewHub(log, func(r *http.Request) bool { return true })
	if core.Redis == nil {
		core.Events.Add("ws", hub)
	}

	api := httpapi.NewServer(log, core.Rounds, core.Ledger, core.Engine, core.Stats, core.Feed)
	api.WS = hub.HandleWS
	api.Limiter = httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	api.DefaultDuration = cfg.RoundDuration

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, core.HealthChecks()...)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("round-service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if core.Redis != nil {
		g.Go(func() error {
			return ws.RunRedisSubscriber(gctx, core.Redis, cfg.RedisPubSubChannel, hub, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("round-service stopped", zap.Error(err))
		os.Exit(1)
	}
}
