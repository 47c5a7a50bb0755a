package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/stats"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

var claimable = []domain.RoundStatus{domain.StatusActive, domain.StatusLocked}

// Report descreve uma liquidação concluída (já commitada).
type Report struct {
	Round *domain.Round
	Plan  Plan
}

// Engine liquida rodadas exatamente uma vez. A exclusão vem do UPDATE
// condicional de status (ClaimRound); claim, pagamentos, saldos e
// estatísticas vão na mesma transação.
type Engine struct {
	Log   *zap.Logger
	Store repo.Store
	Stats *stats.Aggregator
	Sink  notify.Sink
	Now   func() time.Time

	// OnSettled recebe modo, desfecho ("UP", "RANGE_2", "REFUND", "CANCELLED"),
	// duração da transação e total creditado.
	OnSettled func(mode domain.Mode, outcome string, took time.Duration, creditedCents int64)
}

func New(log *zap.Logger, store repo.Store, agg *stats.Aggregator, sink notify.Sink) *Engine {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Engine{Log: log, Store: store, Stats: agg, Sink: sink, Now: time.Now}
}

// Resolve fecha a rodada com finalPrice e paga os vencedores. Rodada já
// resolvida ou cancelada devolve ErrAlreadyResolved, inclusive para quem perde
// a corrida contra outra chamada concorrente.
func (e *Engine) Resolve(ctx context.Context, roundID string, finalPrice decimal.Decimal) (*Report, error) {
	if !finalPrice.IsPositive() {
		return nil, domain.Validationf("final price must be positive, got %s", finalPrice)
	}

	start := time.Now()
	now := e.Now().UTC()
	var rep *Report
	err := e.Store.InTx(ctx, func(q repo.Queries) error {
		r, err := e.claim(ctx, q, roundID, domain.StatusResolved, &finalPrice, &now)
		if err != nil {
			return err
		}

		preds, err := q.ListPredictionsByRound(ctx, r.ID)
		if err != nil {
			return err
		}
		plan := PlanRound(r, preds, finalPrice)
		if err := e.apply(ctx, q, plan, now, true); err != nil {
			return err
		}
		rep = &Report{Round: r, Plan: plan}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r, plan := rep.Round, rep.Plan
	e.Log.Info("round resolved",
		zap.String("round_id", r.ID),
		zap.String("mode", string(r.Mode)),
		zap.String("start_price", r.StartPrice.String()),
		zap.String("end_price", finalPrice.String()),
		zap.String("outcome", plan.Outcome.String()),
		zap.Int("winners", plan.Winners),
		zap.Int("losers", plan.Losers),
		zap.Int("refunds", plan.Refunds))
	if e.OnSettled != nil {
		e.OnSettled(r.Mode, plan.Outcome.String(), time.Since(start), plan.PayoutCents())
	}

	_ = e.Sink.Publish(ctx, events.RoundResolved{
		RoundID:        r.ID,
		Mode:           string(r.Mode),
		StartPrice:     r.StartPrice,
		EndPrice:       finalPrice,
		ResolvedAt:     now,
		Outcome:        plan.Outcome.String(),
		WinnerCount:    plan.Winners,
		LoserCount:     plan.Losers,
		RefundCount:    plan.Refunds,
		TotalPoolCents: r.TotalPoolCents,
	})
	return rep, nil
}

// Cancel encerra a rodada sem preço final e devolve todas as apostas.
// Estatísticas não mudam.
func (e *Engine) Cancel(ctx context.Context, roundID string) (*Report, error) {
	start := time.Now()
	now := e.Now().UTC()
	var rep *Report
	err := e.Store.InTx(ctx, func(q repo.Queries) error {
		r, err := e.claim(ctx, q, roundID, domain.StatusCancelled, nil, nil)
		if err != nil {
			return err
		}

		preds, err := q.ListPredictionsByRound(ctx, r.ID)
		if err != nil {
			return err
		}
		plan := RefundPlan(preds)
		if err := e.apply(ctx, q, plan, now, false); err != nil {
			return err
		}
		rep = &Report{Round: r, Plan: plan}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("round cancelled", zap.String("round_id", roundID), zap.Int("refunds", rep.Plan.Refunds))
	if e.OnSettled != nil {
		e.OnSettled(rep.Round.Mode, "CANCELLED", time.Since(start), rep.Plan.PayoutCents())
	}
	_ = e.Sink.Publish(ctx, events.RoundCancelled{
		RoundID:     roundID,
		Mode:        string(rep.Round.Mode),
		CancelledAt: now,
		RefundCount: rep.Plan.Refunds,
	})
	return rep, nil
}

// claim move a rodada para o estado terminal. Só uma transação consegue; as
// demais leem o status de novo e recebem ErrAlreadyResolved.
func (e *Engine) claim(ctx context.Context, q repo.Queries, roundID string, to domain.RoundStatus, endPrice *decimal.Decimal, resolvedAt *time.Time) (*domain.Round, error) {
	r, err := q.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, domain.ErrAlreadyResolved
	}

	ok, err := q.ClaimRound(ctx, roundID, claimable, to, endPrice, resolvedAt, e.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := q.GetRound(ctx, roundID)
		if err != nil {
			return nil, err
		}
		if cur.Status.Terminal() {
			return nil, domain.ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: round is %s", domain.ErrInvalidState, cur.Status)
	}

	r.Status = to
	r.EndPrice = endPrice
	r.ResolvedAt = resolvedAt
	return r, nil
}

// apply grava o plano. A ordem por usuário mantém os locks de linha em
// users sempre na mesma sequência entre liquidações concorrentes.
func (e *Engine) apply(ctx context.Context, q repo.Queries, plan Plan, at time.Time, withStats bool) error {
	ordered := make([]Settlement, len(plan.Settlements))
	copy(ordered, plan.Settlements)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Prediction.UserID != ordered[j].Prediction.UserID {
			return ordered[i].Prediction.UserID < ordered[j].Prediction.UserID
		}
		return ordered[i].Prediction.ID < ordered[j].Prediction.ID
	})

	for _, s := range ordered {
		p := s.Prediction
		ok, err := q.SettlePrediction(ctx, p.ID, s.Result, s.PayoutCents, at)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("prediction %s already settled: %w", p.ID, domain.ErrInvalidState)
		}

		if err := q.CreditBalance(ctx, p.UserID, s.PayoutCents, streakFor(s.Result)); err != nil {
			return fmt.Errorf("credit %s: %w", p.UserID, err)
		}

		if withStats && e.Stats != nil {
			if err := e.Stats.Record(ctx, q, p, s.Result, s.PayoutCents, at); err != nil {
				return err
			}
		}
	}
	return nil
}

func streakFor(r domain.Result) domain.StreakUpdate {
	switch r {
	case domain.ResultWon:
		return domain.StreakIncrement
	case domain.ResultLost:
		return domain.StreakReset
	}
	return domain.StreakKeep
}
