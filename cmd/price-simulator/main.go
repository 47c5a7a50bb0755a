package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/prediction-rounds/internal/pricesim"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/logger"
	"github.com/radieske/prediction-rounds/internal/shared/metrics"
)

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "price_simulator_ws_connections",
		Help: "Clientes WebSocket conectados",
	})
	wsMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "price_simulator_ws_messages_sent_total",
		Help: "Total de ticks enviados",
	})
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "price-simulator"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	prometheus.MustRegister(wsConnections, wsMessagesSent)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	walk := pricesim.NewWalk(cfg.PriceSymbol, decimal.NewFromInt(60000), 0.0008, time.Now().UnixNano())
	s := pricesim.NewServer(log, walk)
	s.Hub.OnConnections = func(n int) { wsConnections.Set(float64(n)) }
	s.Hub.OnSent = wsMessagesSent.Inc

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("price simulator running",
			zap.String("addr", srv.Addr),
			zap.String("symbol", cfg.PriceSymbol),
			zap.String("paths", "/ws,/ledger"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.Run(gctx, time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("price simulator stopped", zap.Error(err))
	}
}
