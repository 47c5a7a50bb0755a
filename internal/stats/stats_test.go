package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/stats"
	"github.com/radieske/prediction-rounds/internal/testutil"
)

func TestDelta(t *testing.T) {
	upDown := domain.Prediction{UserID: "u", Mode: domain.ModeUpDown, AmountCents: 100}
	legends := domain.Prediction{UserID: "u", Mode: domain.ModeLegends, AmountCents: 50}

	tests := []struct {
		name   string
		p      domain.Prediction
		res    domain.Result
		payout int64
		policy stats.RefundPolicy
		want   domain.StatsDelta
	}{
		{
			name: "updown win", p: upDown, res: domain.ResultWon, payout: 133,
			want: domain.StatsDelta{TotalPredictions: 1, CorrectPredictions: 1, TotalEarningsCents: 33, UpDownWins: 1, UpDownEarningsCents: 33},
		},
		{
			name: "legends loss", p: legends, res: domain.ResultLost,
			want: domain.StatsDelta{TotalPredictions: 1, TotalEarningsCents: -50, LegendsLosses: 1, LegendsEarningsCents: -50},
		},
		{
			name: "refund excluded", p: upDown, res: domain.ResultRefunded, payout: 100, policy: stats.ExcludeRefunds,
			want: domain.StatsDelta{},
		},
		{
			name: "refund counted", p: legends, res: domain.ResultRefunded, payout: 50, policy: stats.CountRefunds,
			want: domain.StatsDelta{TotalPredictions: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stats.Delta(tt.p, tt.res, tt.payout, tt.policy))
		})
	}
}

func record(t *testing.T, a *stats.Aggregator, s repo.Store, p domain.Prediction, res domain.Result, payout int64) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(q repo.Queries) error {
		return a.Record(context.Background(), q, p, res, payout, time.Now())
	}))
}

func TestRecordAccumulates(t *testing.T) {
	store := testutil.NewStore(t)
	a := stats.New(store, stats.ExcludeRefunds)

	p := domain.Prediction{UserID: "alice", Mode: domain.ModeUpDown, AmountCents: 100}
	record(t, a, store, p, domain.ResultWon, 250)
	record(t, a, store, p, domain.ResultLost, 0)
	record(t, a, store, p, domain.ResultRefunded, 100)

	e, err := a.UserStats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Stats.TotalPredictions)
	assert.Equal(t, int64(1), e.Stats.CorrectPredictions)
	assert.Equal(t, int64(50), e.Stats.TotalEarningsCents)
	assert.Equal(t, int64(1), e.Stats.UpDownWins)
	assert.Equal(t, int64(1), e.Stats.UpDownLosses)
	assert.InDelta(t, 0.5, e.Stats.Accuracy(), 1e-9)
	assert.Equal(t, 1, e.Rank)
}

func TestRefundPolicyCountRefunds(t *testing.T) {
	store := testutil.NewStore(t)
	a := stats.New(store, stats.CountRefunds)

	p := domain.Prediction{UserID: "alice", Mode: domain.ModeLegends, AmountCents: 40}
	record(t, a, store, p, domain.ResultRefunded, 40)

	e, err := a.UserStats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Stats.TotalPredictions)
	assert.Zero(t, e.Stats.CorrectPredictions)
	assert.Zero(t, e.Stats.TotalEarningsCents)
}

func TestUserStatsUnknownUser(t *testing.T) {
	store := testutil.NewStore(t)
	a := stats.New(store, stats.ExcludeRefunds)
	record(t, a, store, domain.Prediction{UserID: "rich", Mode: domain.ModeUpDown, AmountCents: 10}, domain.ResultWon, 30)

	e, err := a.UserStats(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", e.Stats.UserID)
	assert.Zero(t, e.Stats.TotalPredictions)
	assert.Equal(t, 2, e.Rank)
}

func TestLeaderboardTieAwareRanks(t *testing.T) {
	store := testutil.NewStore(t)
	a := stats.New(store, stats.ExcludeRefunds)

	// ganhos líquidos: a=+90, b=+40, c=+40, d=-10, e=+40
	win := func(user string, net int64) {
		record(t, a, store, domain.Prediction{UserID: user, Mode: domain.ModeUpDown, AmountCents: 10}, domain.ResultWon, 10+net)
	}
	win("a", 90)
	win("b", 40)
	win("c", 40)
	win("e", 40)
	record(t, a, store, domain.Prediction{UserID: "d", Mode: domain.ModeLegends, AmountCents: 10}, domain.ResultLost, 0)

	board, err := a.Leaderboard(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, board, 5)

	var users []string
	var ranks []int
	for _, e := range board {
		users = append(users, e.Stats.UserID)
		ranks = append(ranks, e.Rank)
	}
	assert.Equal(t, []string{"a", "b", "c", "e", "d"}, users)
	assert.Equal(t, []int{1, 2, 2, 2, 5}, ranks)

	// página que começa no meio de um empate mantém o rank do empate
	page, err := a.Leaderboard(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Stats.UserID)
	assert.Equal(t, 2, page[0].Rank)
	assert.Equal(t, 2, page[1].Rank)

	e, err := a.UserStats(context.Background(), "e")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Rank)

	empty, err := a.Leaderboard(context.Background(), 10, 50)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
