// Package scheduler roda a varredura periódica das rodadas: trava as que
// expiraram, liquida as vencidas com o preço do feed e abre rodadas novas.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/pricefeed"
	"github.com/radieske/prediction-rounds/internal/rounds"
	"github.com/radieske/prediction-rounds/internal/settlement"
	"github.com/radieske/prediction-rounds/internal/shared/cache"
)

const sweepLockKey = "rounds:sweep:lock"

// TickReport resume o que uma varredura fez.
type TickReport struct {
	Locked          int
	Resolved        int
	Skipped         int // já liquidadas por outro caminho
	Failed          int
	Created         int
	FeedUnavailable bool
	Contended       bool // outra réplica segurava o lock
}

// Result é o rótulo usado nas métricas.
func (r TickReport) Result() string {
	switch {
	case r.Contended:
		return "contended"
	case r.FeedUnavailable:
		return "feed_unavailable"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

type Scheduler struct {
	Log    *zap.Logger
	Rounds *rounds.Manager
	Engine *settlement.Engine
	Feed   pricefeed.Feed
	Now    func() time.Time

	Interval      time.Duration
	BufferDelay   time.Duration // folga após o fim antes de liquidar
	Modes         []domain.Mode // modos com rotação automática
	RoundDuration time.Duration

	// Locker opcional: evita trabalho duplicado entre réplicas. A exclusão
	// real continua sendo o claim da liquidação.
	Locker  cache.Locker
	LockTTL time.Duration

	OnTick func(result string)

	sched gocron.Scheduler
}

func New(log *zap.Logger, rm *rounds.Manager, engine *settlement.Engine, feed pricefeed.Feed) *Scheduler {
	return &Scheduler{
		Log:           log,
		Rounds:        rm,
		Engine:        engine,
		Feed:          feed,
		Now:           time.Now,
		Interval:      5 * time.Second,
		BufferDelay:   15 * time.Second,
		RoundDuration: 5 * time.Minute,
	}
}

// Tick executa uma varredura completa. Erros de uma rodada não interrompem as
// demais; feed indisponível pula liquidação e rotação até o próximo tick.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var rep TickReport
	defer func() {
		if s.OnTick != nil {
			s.OnTick(rep.Result())
		}
	}()

	if s.Locker != nil {
		release, ok, err := s.acquire(ctx)
		if err != nil {
			// Redis fora não impede a varredura
			s.Log.Warn("sweep lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			rep.Contended = true
			return rep
		} else {
			defer release(context.WithoutCancel(ctx))
		}
	}

	n, err := s.Rounds.AutoLockExpired(ctx)
	if err != nil {
		s.Log.Error("auto-lock sweep failed", zap.Error(err))
	}
	rep.Locked = n

	price, err := s.Feed.CurrentPrice(ctx)
	if err != nil {
		rep.FeedUnavailable = true
		s.Log.Warn("price feed unavailable, skipping tick", zap.Error(err))
		return rep
	}

	s.resolveDue(ctx, price, &rep)
	s.rotate(ctx, price, &rep)

	if rep.Locked+rep.Resolved+rep.Created+rep.Failed > 0 {
		s.Log.Info("sweep done",
			zap.Int("locked", rep.Locked),
			zap.Int("resolved", rep.Resolved),
			zap.Int("skipped", rep.Skipped),
			zap.Int("failed", rep.Failed),
			zap.Int("created", rep.Created))
	}
	return rep
}

func (s *Scheduler) acquire(ctx context.Context) (func(context.Context), bool, error) {
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 2 * s.Interval
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return cache.TryLock(ctx, s.Locker, sweepLockKey, uuid.NewString(), ttl)
}

func (s *Scheduler) resolveDue(ctx context.Context, price decimal.Decimal, rep *TickReport) {
	cutoff := s.Now().Add(-s.BufferDelay)
	due, err := s.Rounds.ListDue(ctx, cutoff)
	if err != nil {
		s.Log.Error("list due rounds failed", zap.Error(err))
		rep.Failed++
		return
	}

	for _, r := range due {
		_, err := s.Engine.Resolve(ctx, r.ID, price)
		switch {
		case err == nil:
			rep.Resolved++
		case errors.Is(err, domain.ErrAlreadyResolved):
			rep.Skipped++
		default:
			rep.Failed++
			s.Log.Error("auto-resolve failed", zap.String("round_id", r.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) rotate(ctx context.Context, price decimal.Decimal, rep *TickReport) {
	for _, mode := range s.Modes {
		r, err := s.Rounds.EnsureActive(ctx, mode, price, s.RoundDuration)
		if err != nil {
			rep.Failed++
			s.Log.Error("round rotation failed", zap.String("mode", string(mode)), zap.Error(err))
			continue
		}
		if r != nil {
			rep.Created++
		}
	}
}

// Start agenda o Tick a cada Interval. Ticks que atrasam são reagendados em
// vez de empilhados.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.Interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(func() { s.Tick(ctx) }),
		gocron.WithName("rounds-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	sched.Start()
	s.sched = sched
	s.Log.Info("scheduler started", zap.Duration("interval", s.Interval), zap.Duration("buffer", s.BufferDelay))
	return nil
}

// Stop espera o tick em andamento terminar.
func (s *Scheduler) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}
