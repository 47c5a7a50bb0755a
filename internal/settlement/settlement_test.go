package settlement_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/ledger"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/settlement"
	"github.com/radieske/prediction-rounds/internal/shared/db"
	"github.com/radieske/prediction-rounds/internal/stats"
	"github.com/radieske/prediction-rounds/internal/testutil"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

type fixture struct {
	store  *repo.SQL
	ledger *ledger.Ledger
	engine *settlement.Engine
	stats  *stats.Aggregator
	clock  *testutil.Clock
	events *testutil.Recorder
}

func newFixture(t *testing.T) *fixture {
	store := testutil.NewStore(t)
	clock := testutil.NewClock(t0)
	rec := &testutil.Recorder{}

	l := ledger.New(zap.NewNop(), store, nil)
	l.Now = clock.Now

	agg := stats.New(store, stats.ExcludeRefunds)
	e := settlement.New(zap.NewNop(), store, agg, rec)
	e.Now = clock.Now

	return &fixture{store: store, ledger: l, engine: e, stats: agg, clock: clock, events: rec}
}

func (f *fixture) bet(t *testing.T, user, roundID string, amount int64, c domain.Choice) *domain.Prediction {
	t.Helper()
	p, err := f.ledger.Submit(context.Background(), ledger.SubmitInput{UserID: user, RoundID: roundID, AmountCents: amount, Choice: c})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	return p
}

func TestResolveUpDownScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	for _, u := range []string{"u1", "u2", "u3", "d1"} {
		testutil.SeedUser(t, f.store, u, 20000)
	}

	f.bet(t, "u1", r.ID, 10000, domain.SideChoice(domain.SideUp))
	f.bet(t, "u2", r.ID, 10000, domain.SideChoice(domain.SideUp))
	f.bet(t, "u3", r.ID, 10000, domain.SideChoice(domain.SideUp))
	f.bet(t, "d1", r.ID, 10000, domain.SideChoice(domain.SideDown))

	var settled []string
	f.engine.OnSettled = func(mode domain.Mode, outcome string, _ time.Duration, credited int64) {
		settled = append(settled, string(mode)+":"+outcome)
		assert.Equal(t, int64(40000), credited)
	}

	f.clock.Set(t0.Add(2 * time.Minute))
	rep, err := f.engine.Resolve(ctx, r.ID, testutil.Price("110"))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Plan.Winners)
	assert.Equal(t, []string{"UP_DOWN:UP"}, settled)

	// 100,00 + 33,33 (+ o centavo da sobra para o primeiro)
	assert.Equal(t, int64(10000+13334), testutil.Balance(t, f.store, "u1"))
	assert.Equal(t, int64(10000+13333), testutil.Balance(t, f.store, "u2"))
	assert.Equal(t, int64(10000+13333), testutil.Balance(t, f.store, "u3"))
	assert.Equal(t, int64(10000), testutil.Balance(t, f.store, "d1"))

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, got.Status)
	require.NotNil(t, got.EndPrice)
	assert.True(t, got.EndPrice.Equal(testutil.Price("110")))
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, t0.Add(2*time.Minute).Equal(*got.ResolvedAt))

	preds, err := f.store.ListPredictionsByRound(ctx, r.ID)
	require.NoError(t, err)
	var paid int64
	for _, p := range preds {
		require.True(t, p.Result.Settled())
		require.NotNil(t, p.SettledAt)
		paid += p.PayoutCents
		if p.UserID == "d1" {
			assert.Equal(t, domain.ResultLost, p.Result)
		} else {
			assert.Equal(t, domain.ResultWon, p.Result)
		}
	}
	assert.Equal(t, int64(40000), paid)

	u1, err := f.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, u1.WinStreak)

	st, err := f.stats.UserStats(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Stats.UpDownLosses)
	assert.Equal(t, int64(-10000), st.Stats.TotalEarningsCents)
	assert.Equal(t, 4, st.Rank)

	resolved := f.events.Named(ctopics.RoundResolved)
	require.Len(t, resolved, 1)
	ev := resolved[0].(events.RoundResolved)
	assert.Equal(t, 3, ev.WinnerCount)
	assert.Equal(t, 1, ev.LoserCount)
	assert.Equal(t, int64(40000), ev.TotalPoolCents)
	assert.True(t, ev.EndPrice.Equal(testutil.Price("110")))
}

func TestResolveLegendsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeLegends, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 5000)
	testutil.SeedUser(t, f.store, "b", 5000)

	f.bet(t, "a", r.ID, 5000, domain.RangeChoice(domain.PriceRange{Min: testutil.Price("100"), Max: testutil.Price("105")}))
	f.bet(t, "b", r.ID, 5000, domain.RangeChoice(domain.PriceRange{Min: testutil.Price("105"), Max: testutil.Price("110")}))

	rep, err := f.engine.Resolve(ctx, r.ID, testutil.Price("102"))
	require.NoError(t, err)
	assert.Equal(t, "RANGE_2", rep.Plan.Outcome.String())

	assert.Equal(t, int64(10000), testutil.Balance(t, f.store, "a"))
	assert.Zero(t, testutil.Balance(t, f.store, "b"))

	st, err := f.stats.UserStats(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Stats.LegendsWins)
	assert.Equal(t, int64(5000), st.Stats.LegendsEarningsCents)
	assert.Equal(t, 1, st.Rank)
}

func TestResolveEqualPriceRestoresBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	testutil.SeedUser(t, f.store, "b", 1000)

	// sequência prévia de vitórias não pode mudar num reembolso
	require.NoError(t, f.store.CreditBalance(ctx, "a", 0, domain.StreakIncrement))

	f.bet(t, "a", r.ID, 400, domain.SideChoice(domain.SideUp))
	f.bet(t, "b", r.ID, 250, domain.SideChoice(domain.SideDown))

	rep, err := f.engine.Resolve(ctx, r.ID, testutil.Price("100"))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Plan.Refunds)

	assert.Equal(t, int64(1000), testutil.Balance(t, f.store, "a"))
	assert.Equal(t, int64(1000), testutil.Balance(t, f.store, "b"))

	preds, err := f.store.ListPredictionsByRound(ctx, r.ID)
	require.NoError(t, err)
	for _, p := range preds {
		assert.Equal(t, domain.ResultRefunded, p.Result)
		assert.Nil(t, p.Result.Won())
		assert.Equal(t, p.AmountCents, p.PayoutCents)
	}

	a, err := f.store.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, a.WinStreak)

	st, err := f.stats.UserStats(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, st.Stats.TotalPredictions)
}

func TestResolveTwiceIsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	testutil.SeedUser(t, f.store, "b", 1000)
	f.bet(t, "a", r.ID, 100, domain.SideChoice(domain.SideUp))
	f.bet(t, "b", r.ID, 100, domain.SideChoice(domain.SideDown))

	_, err := f.engine.Resolve(ctx, r.ID, testutil.Price("150"))
	require.NoError(t, err)

	_, err = f.engine.Resolve(ctx, r.ID, testutil.Price("50"))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	assert.Equal(t, int64(1100), testutil.Balance(t, f.store, "a"))
	assert.Equal(t, int64(900), testutil.Balance(t, f.store, "b"))
	assert.Len(t, f.events.Named(ctopics.RoundResolved), 1)
}

func TestResolveConcurrentPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	testutil.SeedUser(t, f.store, "b", 1000)
	f.bet(t, "a", r.ID, 300, domain.SideChoice(domain.SideUp))
	f.bet(t, "b", r.ID, 100, domain.SideChoice(domain.SideDown))

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Resolve(ctx, r.ID, testutil.Price("101"))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(700+400), testutil.Balance(t, f.store, "a"))
	assert.Equal(t, int64(900), testutil.Balance(t, f.store, "b"))

	st, err := f.stats.UserStats(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Stats.TotalPredictions)
}

// staleStore devolve, na primeira leitura da rodada dentro da transação, uma
// cópia antiga. Reproduz quem leu o status antes de outra liquidação commitar.
type staleStore struct {
	repo.Store
	stale domain.Round
}

func (s *staleStore) InTx(ctx context.Context, fn func(q repo.Queries) error) error {
	return s.Store.InTx(ctx, func(q repo.Queries) error {
		return fn(&staleQueries{Queries: q, stale: s.stale})
	})
}

type staleQueries struct {
	repo.Queries
	stale  domain.Round
	served bool
}

func (q *staleQueries) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	if !q.served && id == q.stale.ID {
		q.served = true
		r := q.stale
		return &r, nil
	}
	return q.Queries.GetRound(ctx, id)
}

func TestClaimLostAfterStaleRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	testutil.SeedUser(t, f.store, "b", 1000)
	f.bet(t, "a", r.ID, 300, domain.SideChoice(domain.SideUp))
	f.bet(t, "b", r.ID, 100, domain.SideChoice(domain.SideDown))

	before, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, before.Status)

	_, err = f.engine.Resolve(ctx, r.ID, testutil.Price("101"))
	require.NoError(t, err)

	late := settlement.New(zap.NewNop(), &staleStore{Store: f.store, stale: *before}, f.stats, f.events)
	_, err = late.Resolve(ctx, r.ID, testutil.Price("99"))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = late.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	assert.Equal(t, int64(1100), testutil.Balance(t, f.store, "a"))
	assert.Equal(t, int64(900), testutil.Balance(t, f.store, "b"))
	assert.Len(t, f.events.Named(ctopics.RoundResolved), 1)
	assert.Empty(t, f.events.Named(ctopics.RoundCancelled))

	// rodada que não chegou a ACTIVE: claim falha sem ser terminal
	require.NoError(t, f.store.InsertRound(ctx, &domain.Round{
		ID: "p", Mode: domain.ModeUpDown, Status: domain.StatusPending,
		StartTime: t0, EndTime: t0.Add(time.Minute), StartPrice: testutil.Price("100"), CreatedAt: t0,
	}))
	pending, err := f.store.GetRound(ctx, "p")
	require.NoError(t, err)
	pending.Status = domain.StatusActive
	late = settlement.New(zap.NewNop(), &staleStore{Store: f.store, stale: *pending}, f.stats, f.events)
	_, err = late.Resolve(ctx, "p", testutil.Price("101"))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveRaceAcrossStores(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "rounds.db") + "?_txlock=immediate&_pragma=busy_timeout(5000)"
	open := func() *repo.SQL {
		conn, err := db.ConnectSQLite(dsn)
		require.NoError(t, err)
		s := repo.NewSQLite(conn)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	first, second := open(), open()
	require.NoError(t, first.Migrate(ctx))

	clock := testutil.NewClock(t0)
	l := ledger.New(zap.NewNop(), first, nil)
	l.Now = clock.Now
	engines := []*settlement.Engine{
		settlement.New(zap.NewNop(), first, stats.New(first, stats.ExcludeRefunds), nil),
		settlement.New(zap.NewNop(), second, stats.New(second, stats.ExcludeRefunds), nil),
	}

	const rounds = 10
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("r%d", i)
		up, down := "up-"+id, "down-"+id
		testutil.SeedRound(t, first, id, domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
		testutil.SeedUser(t, first, up, 1000)
		testutil.SeedUser(t, first, down, 1000)
		_, err := l.Submit(ctx, ledger.SubmitInput{UserID: up, RoundID: id, AmountCents: 300, Choice: domain.SideChoice(domain.SideUp)})
		require.NoError(t, err)
		_, err = l.Submit(ctx, ledger.SubmitInput{UserID: down, RoundID: id, AmountCents: 100, Choice: domain.SideChoice(domain.SideDown)})
		require.NoError(t, err)

		errs := make([]error, len(engines))
		var wg sync.WaitGroup
		for j, e := range engines {
			wg.Add(1)
			go func(j int, e *settlement.Engine) {
				defer wg.Done()
				_, errs[j] = e.Resolve(ctx, id, testutil.Price("101"))
			}(j, e)
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyResolved, id)
		}
		assert.Equal(t, 1, ok, id)
		assert.Equal(t, int64(1100), testutil.Balance(t, first, up), id)
		assert.Equal(t, int64(900), testutil.Balance(t, second, down), id)
	}
}

func TestResolveWinningSideEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	require.NoError(t, f.store.CreditBalance(ctx, "a", 0, domain.StreakIncrement))
	f.bet(t, "a", r.ID, 100, domain.SideChoice(domain.SideDown))

	rep, err := f.engine.Resolve(ctx, r.ID, testutil.Price("110"))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Plan.Losers)

	a, err := f.store.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(900), a.BalanceCents)
	assert.Zero(t, a.WinStreak)
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeUpDown, "100", t0, t0.Add(time.Minute))

	_, err := f.engine.Resolve(ctx, r.ID, testutil.Price("0"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	_, err = f.engine.Resolve(ctx, "ghost", testutil.Price("1"))
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)
}

func TestResolvePendingRoundIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertRound(ctx, &domain.Round{
		ID: "p", Mode: domain.ModeUpDown, Status: domain.StatusPending,
		StartTime: t0, EndTime: t0.Add(time.Minute), StartPrice: testutil.Price("100"), CreatedAt: t0,
	}))

	_, err := f.engine.Resolve(ctx, "p", testutil.Price("101"))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelRefundsWithoutStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := testutil.SeedRound(t, f.store, "r1", domain.ModeLegends, "100", t0, t0.Add(time.Minute))
	testutil.SeedUser(t, f.store, "a", 1000)
	f.bet(t, "a", r.ID, 600, domain.RangeChoice(domain.PriceRange{Min: testutil.Price("90"), Max: testutil.Price("95")}))

	rep, err := f.engine.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Plan.Refunds)
	assert.Equal(t, int64(1000), testutil.Balance(t, f.store, "a"))

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Nil(t, got.EndPrice)
	assert.Nil(t, got.ResolvedAt)

	st, err := f.stats.UserStats(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, st.Stats.TotalPredictions)
	assert.Len(t, f.events.Named(ctopics.RoundCancelled), 1)

	_, err = f.engine.Resolve(ctx, r.ID, testutil.Price("100"))
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	_, err = f.engine.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}
