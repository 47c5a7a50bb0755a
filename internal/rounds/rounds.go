package rounds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// Manager cria rodadas, responde consultas e faz a transição ACTIVE -> LOCKED.
type Manager struct {
	Log   *zap.Logger
	Store repo.Store
	Sink  notify.Sink
	Now   func() time.Time

	HistoryMaxPage int

	OnCreated func(mode domain.Mode)
	OnLocked  func(mode domain.Mode)
}

func New(log *zap.Logger, store repo.Store, sink notify.Sink) *Manager {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Manager{
		Log:            log,
		Store:          store,
		Sink:           sink,
		Now:            time.Now,
		HistoryMaxPage: repo.MaxPageSize,
	}
}

// CreateRound abre uma rodada ACTIVE de now até now+duration. Em LEGENDS as
// cinco faixas são fixadas aqui, a partir do preço inicial.
func (m *Manager) CreateRound(ctx context.Context, mode domain.Mode, startPrice decimal.Decimal, duration time.Duration) (*domain.Round, error) {
	if !mode.Valid() {
		return nil, domain.Validationf("unknown mode %q", mode)
	}
	if !startPrice.IsPositive() {
		return nil, domain.Validationf("start price must be positive, got %s", startPrice)
	}
	if duration <= 0 {
		return nil, domain.Validationf("duration must be positive, got %s", duration)
	}

	now := m.Now().UTC()
	r := &domain.Round{
		ID:         uuid.NewString(),
		Mode:       mode,
		Status:     domain.StatusActive,
		StartTime:  now,
		EndTime:    now.Add(duration),
		StartPrice: startPrice,
		CreatedAt:  now,
	}
	if mode == domain.ModeLegends {
		r.Ranges = domain.LegendsRanges(startPrice)
	}

	if err := m.Store.InTx(ctx, func(q repo.Queries) error {
		return q.InsertRound(ctx, r)
	}); err != nil {
		return nil, err
	}

	m.Log.Info("round created",
		zap.String("round_id", r.ID),
		zap.String("mode", string(mode)),
		zap.String("start_price", startPrice.String()),
		zap.Time("end_time", r.EndTime))
	if m.OnCreated != nil {
		m.OnCreated(mode)
	}

	ev := events.RoundStarted{
		RoundID:    r.ID,
		Mode:       string(r.Mode),
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		StartPrice: r.StartPrice,
	}
	for _, pr := range r.Ranges {
		ev.Ranges = append(ev.Ranges, events.PriceRange{Index: pr.Index, Min: pr.Min, Max: pr.Max})
	}
	_ = m.Sink.Publish(ctx, ev)
	return r, nil
}

func (m *Manager) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	return m.Store.GetRound(ctx, id)
}

// ListActive devolve as rodadas ACTIVE ainda abertas a apostas, da que fecha
// primeiro para a última.
func (m *Manager) ListActive(ctx context.Context) ([]domain.Round, error) {
	now := m.Now()
	return m.Store.ListRounds(ctx, repo.RoundFilter{
		Statuses: []domain.RoundStatus{domain.StatusActive},
		EndAfter: &now,
	})
}

// ListHistory pagina as rodadas resolvidas, mais recentes primeiro.
func (m *Manager) ListHistory(ctx context.Context, f repo.HistoryFilter) ([]domain.Round, error) {
	if f.Mode != "" && !f.Mode.Valid() {
		return nil, domain.Validationf("unknown mode %q", f.Mode)
	}
	f.Limit, f.Offset = repo.ClampPage(f.Limit, f.Offset, m.HistoryMaxPage)
	return m.Store.ListHistory(ctx, f)
}

// ListDue devolve rodadas ACTIVE/LOCKED com endTime <= before, candidatas à
// liquidação.
func (m *Manager) ListDue(ctx context.Context, before time.Time) ([]domain.Round, error) {
	return m.Store.ListRounds(ctx, repo.RoundFilter{
		Statuses:  []domain.RoundStatus{domain.StatusActive, domain.StatusLocked},
		EndBefore: &before,
	})
}

// Lock trava uma rodada ACTIVE. Qualquer outro status é InvalidState.
func (m *Manager) Lock(ctx context.Context, id string) (*domain.Round, error) {
	var r *domain.Round
	err := m.Store.InTx(ctx, func(q repo.Queries) error {
		ok, err := q.TransitionRound(ctx, id, []domain.RoundStatus{domain.StatusActive}, domain.StatusLocked, m.Now())
		if err != nil {
			return err
		}
		if r, err = q.GetRound(ctx, id); err != nil {
			return err
		}
		if !ok {
			return lockError(r.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.locked(ctx, r)
	return r, nil
}

// AutoLockExpired trava toda rodada ACTIVE cujo prazo passou. Falha numa
// rodada é logada e a varredura continua.
func (m *Manager) AutoLockExpired(ctx context.Context) (int, error) {
	now := m.Now()
	expired, err := m.Store.ListRounds(ctx, repo.RoundFilter{
		Statuses:  []domain.RoundStatus{domain.StatusActive},
		EndBefore: &now,
	})
	if err != nil {
		return 0, err
	}

	locked := 0
	for i := range expired {
		r := &expired[i]
		ok, err := m.Store.TransitionRound(ctx, r.ID, []domain.RoundStatus{domain.StatusActive}, domain.StatusLocked, now)
		if err != nil {
			m.Log.Error("auto-lock failed", zap.String("round_id", r.ID), zap.Error(err))
			continue
		}
		if !ok {
			// alguém travou ou liquidou antes
			continue
		}
		r.Status = domain.StatusLocked
		locked++
		m.locked(ctx, r)
	}
	return locked, nil
}

// EnsureActive cria uma rodada do modo se não houver nenhuma aberta.
// Devolve a rodada criada ou nil quando já existia uma.
func (m *Manager) EnsureActive(ctx context.Context, mode domain.Mode, price decimal.Decimal, duration time.Duration) (*domain.Round, error) {
	now := m.Now()
	open, err := m.Store.ListRounds(ctx, repo.RoundFilter{
		Statuses: []domain.RoundStatus{domain.StatusActive},
		Mode:     mode,
		EndAfter: &now,
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, nil
	}
	return m.CreateRound(ctx, mode, price, duration)
}

func (m *Manager) locked(ctx context.Context, r *domain.Round) {
	m.Log.Info("round locked", zap.String("round_id", r.ID), zap.String("mode", string(r.Mode)))
	if m.OnLocked != nil {
		m.OnLocked(r.Mode)
	}
	_ = m.Sink.Publish(ctx, events.RoundLocked{RoundID: r.ID, Mode: string(r.Mode), LockedAt: m.Now().UTC()})
}

func lockError(s domain.RoundStatus) error {
	return fmt.Errorf("%w: round is %s", domain.ErrRoundNotActive, s)
}
