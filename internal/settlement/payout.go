package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/internal/domain"
)

// OutcomeKind é o que o preço final decidiu.
type OutcomeKind int

const (
	OutcomeRefund OutcomeKind = iota
	OutcomeSide
	OutcomeRange
)

// Outcome identifica o lado ou a faixa vencedora.
type Outcome struct {
	Kind       OutcomeKind
	Side       domain.Side
	RangeIndex int
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSide:
		return string(o.Side)
	case OutcomeRange:
		return fmt.Sprintf("RANGE_%d", o.RangeIndex)
	}
	return "REFUND"
}

// wins indica se a escolha aposta no resultado vencedor.
func (o Outcome) wins(c domain.Choice) bool {
	switch o.Kind {
	case OutcomeSide:
		s, ok := c.Side()
		return ok && s == o.Side
	case OutcomeRange:
		pr, ok := c.Range()
		return ok && pr.Index == o.RangeIndex
	}
	return false
}

// DetermineOutcome aplica as regras do modo ao preço final.
// UP_DOWN: acima do inicial ganha UP, abaixo ganha DOWN, igual reembolsa.
// LEGENDS: a faixa [min, max) que contém o preço ganha; fora de todas reembolsa.
func DetermineOutcome(r *domain.Round, finalPrice decimal.Decimal) Outcome {
	if r.Mode == domain.ModeLegends {
		if pr, ok := r.RangeFor(finalPrice); ok {
			return Outcome{Kind: OutcomeRange, RangeIndex: pr.Index}
		}
		return Outcome{Kind: OutcomeRefund}
	}
	switch finalPrice.Cmp(r.StartPrice) {
	case 1:
		return Outcome{Kind: OutcomeSide, Side: domain.SideUp}
	case -1:
		return Outcome{Kind: OutcomeSide, Side: domain.SideDown}
	}
	return Outcome{Kind: OutcomeRefund}
}

// Settlement é o destino calculado de uma previsão.
type Settlement struct {
	Prediction  domain.Prediction
	Result      domain.Result
	PayoutCents int64
}

// Plan é o resultado puro da liquidação, antes de tocar no banco.
type Plan struct {
	Outcome      Outcome
	WinningCents int64
	LosingCents  int64
	Settlements  []Settlement
	Winners      int
	Losers       int
	Refunds      int
}

// PayoutCents soma tudo o que volta para os usuários.
func (p Plan) PayoutCents() int64 {
	var sum int64
	for _, s := range p.Settlements {
		sum += s.PayoutCents
	}
	return sum
}

// RefundPlan devolve o valor apostado a todos.
func RefundPlan(preds []domain.Prediction) Plan {
	plan := Plan{Outcome: Outcome{Kind: OutcomeRefund}, Settlements: make([]Settlement, len(preds))}
	for i, p := range preds {
		plan.Settlements[i] = Settlement{Prediction: p, Result: domain.ResultRefunded, PayoutCents: p.AmountCents}
		plan.Refunds++
	}
	return plan
}

// PlanRound calcula o pari-mutuel da rodada: cada vencedor recebe o que
// apostou mais amount*losing/winning do pool perdedor. A parte inteira vai
// para todos; os centavos que sobram do arredondamento vão um a um para os
// maiores restos (empate: aposta mais antiga, depois id), de modo que a soma
// paga é exatamente winning + losing.
func PlanRound(r *domain.Round, preds []domain.Prediction, finalPrice decimal.Decimal) Plan {
	outcome := DetermineOutcome(r, finalPrice)
	if outcome.Kind == OutcomeRefund {
		return RefundPlan(preds)
	}

	plan := Plan{Outcome: outcome, Settlements: make([]Settlement, len(preds))}
	for _, p := range preds {
		if outcome.wins(p.Choice) {
			plan.WinningCents += p.AmountCents
		} else {
			plan.LosingCents += p.AmountCents
		}
	}

	type share struct {
		idx int
		rem decimal.Decimal
	}
	var (
		shares      []share
		distributed int64
		winning     = decimal.NewFromInt(plan.WinningCents)
		losing      = decimal.NewFromInt(plan.LosingCents)
	)
	for i, p := range preds {
		if plan.WinningCents == 0 || !outcome.wins(p.Choice) {
			// ninguém acertou: todos perdem, sem reembolso
			plan.Settlements[i] = Settlement{Prediction: p, Result: domain.ResultLost}
			plan.Losers++
			continue
		}
		q, rem := decimal.NewFromInt(p.AmountCents).Mul(losing).QuoRem(winning, 0)
		cut := q.IntPart()
		distributed += cut
		plan.Settlements[i] = Settlement{Prediction: p, Result: domain.ResultWon, PayoutCents: p.AmountCents + cut}
		plan.Winners++
		shares = append(shares, share{idx: i, rem: rem})
	}

	leftover := plan.LosingCents - distributed
	if plan.WinningCents > 0 && leftover > 0 {
		sort.SliceStable(shares, func(a, b int) bool {
			if c := shares[a].rem.Cmp(shares[b].rem); c != 0 {
				return c > 0
			}
			pa, pb := preds[shares[a].idx], preds[shares[b].idx]
			if !pa.CreatedAt.Equal(pb.CreatedAt) {
				return pa.CreatedAt.Before(pb.CreatedAt)
			}
			return pa.ID < pb.ID
		})
		for i := 0; i < len(shares) && leftover > 0; i++ {
			plan.Settlements[shares[i].idx].PayoutCents++
			leftover--
		}
	}
	return plan
}
