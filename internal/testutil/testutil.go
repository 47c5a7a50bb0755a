// Package testutil monta dependências reais e leves para os testes: store
// SQLite em memória, relógio controlável e um sink que grava os eventos.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/shared/db"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

var dbSeq atomic.Int64

// NewStore abre um SQLite em memória isolado por teste, já migrado.
func NewStore(t testing.TB) *repo.SQL {
	t.Helper()
	// nome único: bancos em memória com mesmo nome seriam compartilhados
	dsn := fmt.Sprintf("file:test%d?mode=memory&_pragma=busy_timeout(5000)", dbSeq.Add(1))
	conn, err := db.ConnectSQLite(dsn)
	require.NoError(t, err)

	store := repo.NewSQLite(conn)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Clock é um relógio manual seguro para goroutines.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Recorder é um notify.Sink que guarda os eventos publicados.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Named devolve os eventos de um tipo (ex.: topics.RoundResolved).
func (r *Recorder) Named(name string) []events.Event {
	var out []events.Event
	for _, e := range r.Events() {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

// Price converte literais de teste.
func Price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// SeedUser cria o usuário com saldo inicial.
func SeedUser(t testing.TB, s repo.Store, id string, balanceCents int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, id, time.Now()))
	if balanceCents > 0 {
		require.NoError(t, s.CreditBalance(ctx, id, balanceCents, domain.StreakKeep))
	}
}

// Balance lê o saldo atual do usuário.
func Balance(t testing.TB, s repo.Store, id string) int64 {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.BalanceCents
}

// SeedRound grava uma rodada ACTIVE diretamente no store.
func SeedRound(t testing.TB, s repo.Store, id string, mode domain.Mode, startPrice string, start, end time.Time) *domain.Round {
	t.Helper()
	r := &domain.Round{
		ID:         id,
		Mode:       mode,
		Status:     domain.StatusActive,
		StartTime:  start,
		EndTime:    end,
		StartPrice: Price(startPrice),
		CreatedAt:  start,
	}
	if mode == domain.ModeLegends {
		r.Ranges = domain.LegendsRanges(r.StartPrice)
	}
	require.NoError(t, s.InsertRound(context.Background(), r))
	return r
}
