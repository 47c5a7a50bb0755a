package ledger_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/ledger"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/testutil"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *repo.SQL
	ledger *ledger.Ledger
	clock  *testutil.Clock
	events *testutil.Recorder
}

func newFixture(t *testing.T) *fixture {
	store := testutil.NewStore(t)
	clock := testutil.NewClock(t0)
	rec := &testutil.Recorder{}
	l := ledger.New(zap.NewNop(), store, rec)
	l.Now = clock.Now
	return &fixture{store: store, ledger: l, clock: clock, events: rec}
}

func (f *fixture) upDownRound(t *testing.T) *domain.Round {
	return testutil.SeedRound(t, f.store, "r-updown", domain.ModeUpDown, "100", t0, t0.Add(5*time.Minute))
}

func (f *fixture) legendsRound(t *testing.T) *domain.Round {
	return testutil.SeedRound(t, f.store, "r-legends", domain.ModeLegends, "100", t0, t0.Add(5*time.Minute))
}

func TestSubmitUpDownDebitsAndFillsPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	p, err := f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "alice", RoundID: r.ID, AmountCents: 300, Choice: domain.SideChoice(domain.SideUp),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, p.Result)
	assert.Equal(t, domain.ModeUpDown, p.Mode)

	assert.Equal(t, int64(700), testutil.Balance(t, f.store, "alice"))

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.PoolUpCents)
	assert.Zero(t, got.PoolDownCents)
	assert.Equal(t, int64(300), got.TotalPoolCents)

	stored, err := f.store.GetPrediction(ctx, p.ID)
	require.NoError(t, err)
	side, ok := stored.Choice.Side()
	require.True(t, ok)
	assert.Equal(t, domain.SideUp, side)

	placed := f.events.Named(ctopics.PredictionPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, "UP", placed[0].(events.PredictionPlaced).Side)
}

func TestSubmitLegendsMatchesRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.legendsRound(t)
	testutil.SeedUser(t, f.store, "bob", 500)

	want := domain.PriceRange{Min: testutil.Price("105.00"), Max: testutil.Price("110")}
	p, err := f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "bob", RoundID: r.ID, AmountCents: 50, Choice: domain.RangeChoice(want),
	})
	require.NoError(t, err)

	pr, ok := p.Choice.Range()
	require.True(t, ok)
	assert.Equal(t, 3, pr.Index)

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Ranges[3].PoolCents)
	assert.Equal(t, int64(50), got.TotalPoolCents)
	assert.Zero(t, got.PoolUpCents+got.PoolDownCents)
}

func TestSubmitLegendsRejectsUnknownRange(t *testing.T) {
	f := newFixture(t)
	r := f.legendsRound(t)
	testutil.SeedUser(t, f.store, "bob", 500)

	_, err := f.ledger.Submit(context.Background(), ledger.SubmitInput{
		UserID: "bob", RoundID: r.ID, AmountCents: 50,
		Choice: domain.RangeChoice(domain.PriceRange{Min: testutil.Price("101"), Max: testutil.Price("106")}),
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(500), testutil.Balance(t, f.store, "bob"))
}

func TestSubmitRejectsChoiceOfOtherMode(t *testing.T) {
	f := newFixture(t)
	r := f.legendsRound(t)
	testutil.SeedUser(t, f.store, "bob", 500)

	_, err := f.ledger.Submit(context.Background(), ledger.SubmitInput{
		UserID: "bob", RoundID: r.ID, AmountCents: 50, Choice: domain.SideChoice(domain.SideDown),
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	var rejected []string
	f.ledger.OnRejected = func(reason string) { rejected = append(rejected, reason) }

	for _, in := range []ledger.SubmitInput{
		{UserID: "alice", RoundID: r.ID, AmountCents: 0, Choice: domain.SideChoice(domain.SideUp)},
		{UserID: "alice", RoundID: r.ID, AmountCents: -5, Choice: domain.SideChoice(domain.SideUp)},
		{UserID: "alice", RoundID: r.ID, AmountCents: 10},
		{UserID: "", RoundID: r.ID, AmountCents: 10, Choice: domain.SideChoice(domain.SideUp)},
	} {
		_, err := f.ledger.Submit(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.Equal(t, []string{"validation", "validation", "validation", "validation"}, rejected)
	assert.Equal(t, int64(1000), testutil.Balance(t, f.store, "alice"))
}

func TestSubmitRoundNotFound(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	_, err := f.ledger.Submit(context.Background(), ledger.SubmitInput{
		UserID: "alice", RoundID: "ghost", AmountCents: 10, Choice: domain.SideChoice(domain.SideUp),
	})

	assert.ErrorIs(t, err, domain.ErrRoundNotFound)
}

func TestSubmitAfterExpiryIsRoundNotActive(t *testing.T) {
	f := newFixture(t)
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	// ainda ACTIVE no banco, mas o prazo já passou
	f.clock.Set(r.EndTime)

	_, err := f.ledger.Submit(context.Background(), ledger.SubmitInput{
		UserID: "alice", RoundID: r.ID, AmountCents: 10, Choice: domain.SideChoice(domain.SideUp),
	})

	assert.ErrorIs(t, err, domain.ErrRoundNotActive)
	assert.Equal(t, int64(1000), testutil.Balance(t, f.store, "alice"))
}

func TestSubmitIntoLockedRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	ok, err := f.store.TransitionRound(ctx, r.ID, []domain.RoundStatus{domain.StatusActive}, domain.StatusLocked, t0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "alice", RoundID: r.ID, AmountCents: 10, Choice: domain.SideChoice(domain.SideDown),
	})

	assert.ErrorIs(t, err, domain.ErrRoundNotActive)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	in := ledger.SubmitInput{UserID: "alice", RoundID: r.ID, AmountCents: 100, Choice: domain.SideChoice(domain.SideUp)}
	_, err := f.ledger.Submit(ctx, in)
	require.NoError(t, err)

	in.Choice = domain.SideChoice(domain.SideDown)
	_, err = f.ledger.Submit(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicatePrediction)

	assert.Equal(t, int64(900), testutil.Balance(t, f.store, "alice"))
	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalPoolCents)
	assert.Zero(t, got.PoolDownCents)
}

func TestSubmitConcurrentDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Submit(ctx, ledger.SubmitInput{
				UserID: "alice", RoundID: r.ID, AmountCents: 100, Choice: domain.SideChoice(domain.SideUp),
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrDuplicatePrediction):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	preds, err := f.store.ListPredictionsByRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, preds, 1)
	assert.Equal(t, int64(900), testutil.Balance(t, f.store, "alice"))
}

func TestSubmitInsufficientBalanceLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)
	testutil.SeedUser(t, f.store, "carol", 50)

	_, err := f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "carol", RoundID: r.ID, AmountCents: 51, Choice: domain.SideChoice(domain.SideUp),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, int64(50), testutil.Balance(t, f.store, "carol"))
	preds, err := f.store.ListPredictionsByRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, preds)
	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalPoolCents)
	assert.Empty(t, f.events.Events())

	// o saldo exato é aceito
	_, err = f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "carol", RoundID: r.ID, AmountCents: 50, Choice: domain.SideChoice(domain.SideUp),
	})
	require.NoError(t, err)
	assert.Zero(t, testutil.Balance(t, f.store, "carol"))
}

func TestSubmitUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.upDownRound(t)

	_, err := f.ledger.Submit(ctx, ledger.SubmitInput{
		UserID: "nobody", RoundID: r.ID, AmountCents: 10, Choice: domain.SideChoice(domain.SideUp),
	})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	preds, err := f.store.ListPredictionsByRound(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestListByUserAndRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	up := f.upDownRound(t)
	leg := f.legendsRound(t)
	testutil.SeedUser(t, f.store, "alice", 1000)
	testutil.SeedUser(t, f.store, "bob", 1000)

	_, err := f.ledger.Submit(ctx, ledger.SubmitInput{UserID: "alice", RoundID: up.ID, AmountCents: 10, Choice: domain.SideChoice(domain.SideUp)})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.ledger.Submit(ctx, ledger.SubmitInput{UserID: "alice", RoundID: leg.ID, AmountCents: 20, Choice: domain.RangeChoice(leg.Ranges[0])})
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, ledger.SubmitInput{UserID: "bob", RoundID: up.ID, AmountCents: 30, Choice: domain.SideChoice(domain.SideDown)})
	require.NoError(t, err)

	mine, err := f.ledger.ListByUser(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, leg.ID, mine[0].RoundID, "newest first")

	byRound, err := f.ledger.ListByRound(ctx, up.ID)
	require.NoError(t, err)
	assert.Len(t, byRound, 2)

	_, err = f.ledger.ListByRound(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrRoundNotFound)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.ledger.Deposit(ctx, "carol", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), u.BalanceCents)

	u, err = f.ledger.Deposit(ctx, "carol", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), u.BalanceCents)
	assert.Zero(t, u.WinStreak)

	_, err = f.ledger.Deposit(ctx, "carol", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.ledger.Deposit(ctx, "", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.ledger.User(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDepositOverflowIsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, "carol", math.MaxInt64)
	require.NoError(t, err)

	_, err = f.ledger.Deposit(ctx, "carol", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(math.MaxInt64), testutil.Balance(t, f.store, "carol"))
}
