package stats

import (
	"context"
	"errors"
	"time"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/repo"
)

// RefundPolicy decide se previsões reembolsadas contam em totalPredictions.
type RefundPolicy int

const (
	// ExcludeRefunds: reembolso não altera estatística nenhuma.
	ExcludeRefunds RefundPolicy = iota
	// CountRefunds: reembolso soma só em totalPredictions (reduz a acurácia).
	CountRefunds
)

func (p RefundPolicy) String() string {
	if p == CountRefunds {
		return "count_refunds"
	}
	return "exclude_refunds"
}

// Delta calcula o incremento de estatística de uma previsão liquidada.
// Ganho líquido é payout - amount na vitória e -amount na derrota.
func Delta(p domain.Prediction, res domain.Result, payoutCents int64, policy RefundPolicy) domain.StatsDelta {
	var d domain.StatsDelta
	switch res {
	case domain.ResultWon:
		net := payoutCents - p.AmountCents
		d.TotalPredictions = 1
		d.CorrectPredictions = 1
		d.TotalEarningsCents = net
		if p.Mode == domain.ModeLegends {
			d.LegendsWins = 1
			d.LegendsEarningsCents = net
		} else {
			d.UpDownWins = 1
			d.UpDownEarningsCents = net
		}
	case domain.ResultLost:
		d.TotalPredictions = 1
		d.TotalEarningsCents = -p.AmountCents
		if p.Mode == domain.ModeLegends {
			d.LegendsLosses = 1
			d.LegendsEarningsCents = -p.AmountCents
		} else {
			d.UpDownLosses = 1
			d.UpDownEarningsCents = -p.AmountCents
		}
	case domain.ResultRefunded:
		if policy == CountRefunds {
			d.TotalPredictions = 1
		}
	}
	return d
}

// Aggregator aplica deltas dentro da transação de liquidação e responde as
// consultas de ranking.
type Aggregator struct {
	Store  repo.Store
	Policy RefundPolicy
}

func New(store repo.Store, policy RefundPolicy) *Aggregator {
	return &Aggregator{Store: store, Policy: policy}
}

// Record soma o efeito de uma previsão liquidada usando q (a transação em curso).
func (a *Aggregator) Record(ctx context.Context, q repo.Queries, p domain.Prediction, res domain.Result, payoutCents int64, at time.Time) error {
	d := Delta(p, res, payoutCents, a.Policy)
	if d.IsZero() {
		return nil
	}
	return q.AddUserStats(ctx, p.UserID, d, at)
}

// UserStats devolve as estatísticas com o rank calculado na leitura. Usuário
// sem previsões liquidadas recebe contadores zerados.
func (a *Aggregator) UserStats(ctx context.Context, userID string) (*domain.LeaderboardEntry, error) {
	st, err := a.Store.GetUserStats(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		st = &domain.UserStats{UserID: userID}
	} else if err != nil {
		return nil, err
	}

	above, err := a.Store.CountEarningsAbove(ctx, st.TotalEarningsCents)
	if err != nil {
		return nil, err
	}
	return &domain.LeaderboardEntry{Rank: int(above) + 1, Stats: *st}, nil
}

// Leaderboard pagina por ganhos totais. Empates dividem o mesmo rank
// (1 + quantos têm ganhos estritamente maiores).
func (a *Aggregator) Leaderboard(ctx context.Context, limit, offset int) ([]domain.LeaderboardEntry, error) {
	limit, offset = repo.ClampPage(limit, offset, repo.MaxPageSize)
	rows, err := a.Store.ListStatsByEarnings(ctx, limit, offset)
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	above, err := a.Store.CountEarningsAbove(ctx, rows[0].TotalEarningsCents)
	if err != nil {
		return nil, err
	}

	out := make([]domain.LeaderboardEntry, len(rows))
	rank := int(above) + 1
	for i, st := range rows {
		if i > 0 && st.TotalEarningsCents != rows[i-1].TotalEarningsCents {
			rank = offset + i + 1
		}
		out[i] = domain.LeaderboardEntry{Rank: rank, Stats: st}
	}
	return out, nil
}
