// Package app monta os componentes de rodada a partir da configuração. Todos
// os cmds passam por aqui para que store, destinos de eventos e métricas
// fiquem ligados do mesmo jeito.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/advisory"
	"github.com/radieske/prediction-rounds/internal/archive"
	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/ledger"
	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/internal/pricefeed"
	"github.com/radieske/prediction-rounds/internal/producer"
	"github.com/radieske/prediction-rounds/internal/pubsub"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/rounds"
	"github.com/radieske/prediction-rounds/internal/scheduler"
	"github.com/radieske/prediction-rounds/internal/settlement"
	"github.com/radieske/prediction-rounds/internal/shared/cache"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/db"
	"github.com/radieske/prediction-rounds/internal/shared/kafka"
	"github.com/radieske/prediction-rounds/internal/shared/metrics"
	"github.com/radieske/prediction-rounds/internal/stats"
	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

// Core reúne o núcleo de rodadas e as conexões que ele usa.
type Core struct {
	Cfg config.Config
	Log *zap.Logger

	Store  *repo.SQL
	Redis  *redis.Client // nil sem REDIS_ADDR
	Events *notify.Fanout
	Feed   pricefeed.Feed

	Rounds *rounds.Manager
	Ledger *ledger.Ledger
	Engine *settlement.Engine
	Stats  *stats.Aggregator

	checks  []metrics.HealthCheck
	closers []func() error
}

// Wire conecta no banco, Redis e Kafka conforme cfg e liga os destinos de
// eventos opcionais (ledger consultivo, arquivo S3). m pode ser nil.
func Wire(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Collectors) (*Core, error) {
	store, err := db.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("wire: store: %w", err)
	}
	c := Build(cfg, log, store, m)
	c.closers = append(c.closers, store.Close)
	c.checks = append(c.checks, metrics.HealthCheck{Name: "db", Fn: store.Ping})
	log.Info("store ready", zap.String("driver", cfg.DBDriver))

	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("wire: redis: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
		c.checks = append(c.checks, metrics.HealthCheck{Name: "redis", Fn: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})

		feed := pricefeed.NewRedisFeed(rdb, cfg.PriceSymbol, cfg.PriceMaxAge, cfg.FeedTimeout)
		if m != nil {
			feed.OnRead = func(result string) { m.FeedReads.WithLabelValues(result).Inc() }
		}
		c.Feed = feed
		c.Events.Add("redis", pubsub.NewRedisBroadcaster(rdb, cfg.RedisPubSubChannel))
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		w := kafka.NewWriter(brokers, "")
		c.closers = append(c.closers, w.Close)
		c.Events.Add("kafka", producer.New(w, Topics(cfg), log))
		log.Info("kafka writer ready", zap.Strings("brokers", brokers))
	}

	if cfg.AdvisoryLedgerURL != "" {
		c.Events.Add("advisory", advisory.New(cfg.AdvisoryLedgerURL, cfg.AdvisoryTimeout))
		log.Info("advisory ledger enabled", zap.String("url", cfg.AdvisoryLedgerURL))
	}

	if cfg.ArchiveS3.Bucket != "" {
		s3c, err := archive.NewS3Client(ctx, cfg.ArchiveS3)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("wire: archive: %w", err)
		}
		c.Events.Add("archive", archive.New(store, s3c, cfg.ArchiveS3.Bucket, cfg.ArchiveS3.Prefix))
		log.Info("receipt archive enabled", zap.String("bucket", cfg.ArchiveS3.Bucket))
	}

	return c, nil
}

// Build monta o núcleo sobre um store já aberto, sem destinos externos.
func Build(cfg config.Config, log *zap.Logger, store *repo.SQL, m *metrics.Collectors) *Core {
	events := notify.NewFanout(log)

	policy := stats.ExcludeRefunds
	if cfg.StatsCountRefunds {
		policy = stats.CountRefunds
	}
	agg := stats.New(store, policy)

	rm := rounds.New(log, store, events)
	if cfg.HistoryMaxPage > 0 {
		rm.HistoryMaxPage = cfg.HistoryMaxPage
	}

	c := &Core{
		Cfg:    cfg,
		Log:    log,
		Store:  store,
		Events: events,
		Feed:   pricefeed.Static{Err: domain.ErrFeedUnavailable},
		Rounds: rm,
		Ledger: ledger.New(log, store, events),
		Engine: settlement.New(log, store, agg, events),
		Stats:  agg,
	}
	if m != nil {
		c.instrument(m)
	}
	return c
}

func (c *Core) instrument(m *metrics.Collectors) {
	c.Rounds.OnCreated = func(mode domain.Mode) { m.RoundsCreated.WithLabelValues(string(mode)).Inc() }
	c.Rounds.OnLocked = func(mode domain.Mode) { m.RoundsLocked.WithLabelValues(string(mode)).Inc() }
	c.Ledger.OnPlaced = func(mode domain.Mode) { m.PredictionsPlaced.WithLabelValues(string(mode)).Inc() }
	c.Ledger.OnRejected = func(reason string) { m.PredictionsRejected.WithLabelValues(reason).Inc() }
	c.Engine.OnSettled = func(mode domain.Mode, outcome string, took time.Duration, credited int64) {
		m.RoundsSettled.WithLabelValues(string(mode), outcome).Inc()
		m.SettlementDuration.Observe(took.Seconds())
		m.PayoutCents.Add(float64(credited))
	}
	c.Events.OnPublished = func(sink string) { m.EventsPublished.WithLabelValues(sink).Inc() }
	c.Events.OnFailed = func(sink string) { m.EventsFailed.WithLabelValues(sink).Inc() }
}

// Topics mapeia cada evento para o tópico configurado.
func Topics(cfg config.Config) map[string]string {
	return map[string]string{
		ctopics.RoundStarted:     cfg.TopicRoundStarted,
		ctopics.RoundLocked:      cfg.TopicRoundLocked,
		ctopics.RoundResolved:    cfg.TopicRoundResolved,
		ctopics.RoundCancelled:   cfg.TopicRoundCancelled,
		ctopics.PredictionPlaced: cfg.TopicPredictionPlaced,
		ctopics.PriceTicks:       cfg.TopicPriceTicks,
	}
}

// ParseModes valida AUTO_CREATE_MODES.
func ParseModes(names []string) ([]domain.Mode, error) {
	out := make([]domain.Mode, 0, len(names))
	for _, n := range names {
		m, err := domain.ParseMode(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// NewScheduler monta o agendador com os parâmetros de cfg.
func (c *Core) NewScheduler(m *metrics.Collectors) (*scheduler.Scheduler, error) {
	modes, err := ParseModes(c.Cfg.AutoCreateModes)
	if err != nil {
		return nil, err
	}
	s := scheduler.New(c.Log, c.Rounds, c.Engine, c.Feed)
	s.Interval = c.Cfg.SchedulerInterval
	s.BufferDelay = c.Cfg.ResolveBufferDelay
	s.RoundDuration = c.Cfg.RoundDuration
	s.Modes = modes
	if c.Cfg.SweepLock && c.Redis != nil {
		s.Locker = c.Redis
	}
	if m != nil {
		s.OnTick = func(result string) { m.SchedulerTicks.WithLabelValues(result).Inc() }
	}
	return s, nil
}

// HealthChecks devolve as dependências verificadas pelo /healthz.
func (c *Core) HealthChecks() []metrics.HealthCheck { return c.checks }

// Close fecha as conexões na ordem inversa da abertura.
func (c *Core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}
