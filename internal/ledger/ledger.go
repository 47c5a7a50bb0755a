package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// SubmitInput é uma aposta ainda não validada.
type SubmitInput struct {
	UserID      string
	RoundID     string
	AmountCents int64
	Choice      domain.Choice
}

// Ledger registra no máximo uma previsão por usuário por rodada, debitando o
// saldo e somando o pool na mesma transação.
type Ledger struct {
	Log   *zap.Logger
	Store repo.Store
	Sink  notify.Sink
	Now   func() time.Time

	OnPlaced   func(mode domain.Mode)
	OnRejected func(reason string)
}

func New(log *zap.Logger, store repo.Store, sink notify.Sink) *Ledger {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Ledger{Log: log, Store: store, Sink: sink, Now: time.Now}
}

// Submit valida e grava a previsão. Nenhum efeito fica gravado se qualquer
// pré-condição falhar.
func (l *Ledger) Submit(ctx context.Context, in SubmitInput) (*domain.Prediction, error) {
	p, err := l.submit(ctx, in)
	if err != nil {
		if l.OnRejected != nil {
			l.OnRejected(rejectReason(err))
		}
		return nil, err
	}

	l.Log.Info("prediction placed",
		zap.String("prediction_id", p.ID),
		zap.String("round_id", p.RoundID),
		zap.String("user_id", p.UserID),
		zap.Int64("amount_cents", p.AmountCents))
	if l.OnPlaced != nil {
		l.OnPlaced(p.Mode)
	}

	ev := events.PredictionPlaced{
		RoundID:      p.RoundID,
		PredictionID: p.ID,
		UserID:       p.UserID,
		AmountCents:  p.AmountCents,
		Ts:           p.CreatedAt,
	}
	if s, ok := p.Choice.Side(); ok {
		ev.Side = string(s)
	}
	if pr, ok := p.Choice.Range(); ok {
		ev.Range = &events.PriceRange{Index: pr.Index, Min: pr.Min, Max: pr.Max}
	}
	_ = l.Sink.Publish(ctx, ev)
	return p, nil
}

func (l *Ledger) submit(ctx context.Context, in SubmitInput) (*domain.Prediction, error) {
	if in.UserID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if in.AmountCents <= 0 {
		return nil, domain.Validationf("amount must be positive, got %d", in.AmountCents)
	}
	if in.Choice.IsZero() {
		return nil, domain.Validationf("choice must set a side or a range")
	}

	now := l.Now().UTC()
	var p *domain.Prediction
	err := l.Store.InTx(ctx, func(q repo.Queries) error {
		r, err := q.GetRound(ctx, in.RoundID)
		if err != nil {
			return err
		}

		choice, err := resolveChoice(r, in.Choice)
		if err != nil {
			return err
		}
		if !r.AcceptsBets(now) {
			return domain.ErrRoundNotActive
		}

		// condicional: perde para um lock/liquidação concorrente
		ok, err := q.AddRoundStake(ctx, r.ID, choice, in.AmountCents, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoundNotActive
		}

		p = &domain.Prediction{
			ID:          uuid.NewString(),
			RoundID:     r.ID,
			UserID:      in.UserID,
			Mode:        r.Mode,
			AmountCents: in.AmountCents,
			Choice:      choice,
			Result:      domain.ResultPending,
			CreatedAt:   now,
		}
		if err := q.InsertPrediction(ctx, p); err != nil {
			return err
		}
		return q.DebitBalance(ctx, in.UserID, in.AmountCents)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolveChoice confere a escolha com o modo da rodada. Em LEGENDS a faixa
// precisa bater exatamente com uma das faixas da rodada; devolve a faixa da
// rodada (com índice) para o pool certo ser incrementado.
func resolveChoice(r *domain.Round, c domain.Choice) (domain.Choice, error) {
	if c.Mode() != r.Mode {
		return domain.Choice{}, domain.Validationf("%s round does not accept a %s choice", r.Mode, c.Mode())
	}
	if s, ok := c.Side(); ok {
		if !s.Valid() {
			return domain.Choice{}, domain.Validationf("unknown side %q", s)
		}
		return c, nil
	}
	want, _ := c.Range()
	pr, ok := r.MatchRange(want)
	if !ok {
		return domain.Choice{}, domain.Validationf("range [%s, %s) is not one of the round ranges", want.Min, want.Max)
	}
	pr.PoolCents = 0
	return domain.RangeChoice(pr), nil
}

func (l *Ledger) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Prediction, error) {
	return l.Store.ListPredictionsByUser(ctx, userID, limit, offset)
}

func (l *Ledger) ListByRound(ctx context.Context, roundID string) ([]domain.Prediction, error) {
	if _, err := l.Store.GetRound(ctx, roundID); err != nil {
		return nil, err
	}
	return l.Store.ListPredictionsByRound(ctx, roundID)
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	return l.Store.GetPrediction(ctx, id)
}

// Deposit credita saldo, criando o usuário se preciso. Saldos são de um
// sistema externo; isto existe para seed e operação.
func (l *Ledger) Deposit(ctx context.Context, userID string, amountCents int64) (*domain.User, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if amountCents <= 0 {
		return nil, domain.Validationf("amount must be positive, got %d", amountCents)
	}

	var u *domain.User
	err := l.Store.InTx(ctx, func(q repo.Queries) error {
		if err := q.EnsureUser(ctx, userID, l.Now().UTC()); err != nil {
			return err
		}
		if err := q.CreditBalance(ctx, userID, amountCents, domain.StreakKeep); err != nil {
			return err
		}
		var err error
		u, err = q.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Log.Info("deposit", zap.String("user_id", userID), zap.Int64("amount_cents", amountCents))
	return u, nil
}

func (l *Ledger) User(ctx context.Context, userID string) (*domain.User, error) {
	return l.Store.GetUser(ctx, userID)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicatePrediction):
		return "duplicate"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidState):
		return "round_not_active"
	}
	return "internal"
}
