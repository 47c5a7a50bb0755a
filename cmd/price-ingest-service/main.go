package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/prediction-rounds/internal/app"
	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/internal/pricefeed"
	"github.com/radieske/prediction-rounds/internal/producer"
	"github.com/radieske/prediction-rounds/internal/shared/cache"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/kafka"
	"github.com/radieske/prediction-rounds/internal/shared/logger"
	"github.com/radieske/prediction-rounds/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "price-ingest-service"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollectors(prometheus.DefaultRegisterer)

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected", zap.String("addr", cfg.RedisAddr))

	// ticks só vão para o Kafka; o último preço vai para o Redis pelo Store
	var pub notify.Sink = notify.Nop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		w := kafka.NewWriter(brokers, "")
		defer w.Close()
		pub = producer.New(w, app.Topics(cfg), log)
		log.Info("kafka writer ready", zap.Strings("brokers", brokers), zap.String("topic", cfg.TopicPriceTicks))
	}

	client := &pricefeed.WSClient{
		URL:       cfg.PriceStreamURL,
		Symbol:    cfg.PriceSymbol,
		Log:       log,
		Store:     rdb,
		Publisher: pub,
		OnTick:    func(result string) { m.IngestTicks.WithLabelValues(result).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, metrics.HealthCheck{
		Name: "redis",
		Fn:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("price ingest stopped", zap.Error(err))
	}
}
