package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/internal/domain"
)

// Queries reúne as operações de persistência do núcleo. A mesma interface é
// servida fora de transação (Store) e dentro dela (InTx).
type Queries interface {
	// Rodadas
	InsertRound(ctx context.Context, r *domain.Round) error
	GetRound(ctx context.Context, id string) (*domain.Round, error)
	ListRounds(ctx context.Context, f RoundFilter) ([]domain.Round, error)
	ListHistory(ctx context.Context, f HistoryFilter) ([]domain.Round, error)
	// TransitionRound faz UPDATE condicional do status; false se a rodada não
	// estava em nenhum dos estados from.
	TransitionRound(ctx context.Context, id string, from []domain.RoundStatus, to domain.RoundStatus, at time.Time) (bool, error)
	// ClaimRound é o ponto único de exclusão da liquidação: move a rodada para
	// o estado terminal to, gravando endPrice/resolvedAt, só se ela estiver em from.
	ClaimRound(ctx context.Context, id string, from []domain.RoundStatus, to domain.RoundStatus, endPrice *decimal.Decimal, resolvedAt *time.Time, at time.Time) (bool, error)
	// AddRoundStake soma amount aos pools se a rodada estiver ACTIVE e não expirada.
	AddRoundStake(ctx context.Context, roundID string, c domain.Choice, amountCents int64, now time.Time) (bool, error)

	// Previsões
	InsertPrediction(ctx context.Context, p *domain.Prediction) error
	GetPrediction(ctx context.Context, id string) (*domain.Prediction, error)
	ListPredictionsByRound(ctx context.Context, roundID string) ([]domain.Prediction, error)
	ListPredictionsByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Prediction, error)
	// SettlePrediction grava resultado e payout só se a previsão ainda estiver pendente.
	SettlePrediction(ctx context.Context, id string, res domain.Result, payoutCents int64, at time.Time) (bool, error)

	// Usuários
	EnsureUser(ctx context.Context, id string, at time.Time) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	DebitBalance(ctx context.Context, userID string, amountCents int64) error
	CreditBalance(ctx context.Context, userID string, amountCents int64, streak domain.StreakUpdate) error

	// Estatísticas
	AddUserStats(ctx context.Context, userID string, d domain.StatsDelta, at time.Time) error
	GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error)
	ListStatsByEarnings(ctx context.Context, limit, offset int) ([]domain.UserStats, error)
	CountEarningsAbove(ctx context.Context, earningsCents int64) (int64, error)
}

// Store é o armazenamento completo: leituras/escritas avulsas + unidade de trabalho.
type Store interface {
	Queries
	// InTx executa fn numa transação; qualquer erro desfaz tudo.
	// Dentro de fn use apenas o Queries recebido.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// RoundFilter seleciona rodadas por status e prazo.
type RoundFilter struct {
	Statuses  []domain.RoundStatus
	Mode      domain.Mode
	EndBefore *time.Time // end_time <= EndBefore
	EndAfter  *time.Time // end_time > EndAfter
	Limit     int
}

// HistoryFilter pagina rodadas resolvidas por resolved_at desc.
type HistoryFilter struct {
	Mode   domain.Mode
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage aplica o tamanho padrão e o teto de página.
func ClampPage(limit, offset, ceiling int) (int, int) {
	if ceiling <= 0 {
		ceiling = MaxPageSize
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > ceiling {
		limit = ceiling
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// dbtx é o subconjunto comum de *sql.DB e *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
	d  Dialect
}

// SQL implementa Store sobre database/sql (Postgres via lib/pq ou SQLite).
type SQL struct {
	*queries
	db *sql.DB
}

// New cria o Store para uma conexão já aberta.
func New(db *sql.DB, d Dialect) *SQL {
	return &SQL{queries: &queries{db: db, d: d}, db: db}
}

// NewPostgres mantém o construtor usado pelos serviços em produção.
func NewPostgres(db *sql.DB) *SQL { return New(db, Postgres) }

// NewSQLite cria o Store embarcado.
func NewSQLite(db *sql.DB) *SQL { return New(db, SQLite) }

func (s *SQL) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx, d: s.d}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Dialect() Dialect { return s.d }

func toMs(t time.Time) int64 { return t.UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMs(*t), Valid: true}
}

func ptrFromMs(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMs(n.Int64)
	return &t
}
