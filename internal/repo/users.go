package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/radieske/prediction-rounds/internal/domain"
)

func (q *queries) EnsureUser(ctx context.Context, id string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, balance_cents, win_streak, created_at_ms)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, toMs(at))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var (
		u         domain.User
		createdMs int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, balance_cents, win_streak, created_at_ms FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.BalanceCents, &u.WinStreak, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMs(createdMs)
	return &u, nil
}

// DebitBalance desconta amount do saldo sem deixá-lo negativo.
func (q *queries) DebitBalance(ctx context.Context, userID string, amountCents int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET balance_cents = balance_cents - $2
		WHERE id = $1 AND balance_cents >= $2
	`, userID, amountCents)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := q.GetUser(ctx, userID); err != nil {
		return err
	}
	return domain.ErrInsufficientBalance
}

// CreditBalance soma amount ao saldo e aplica o efeito na sequência de vitórias.
// Um crédito que estouraria int64 é rejeitado como ErrValidation.
func (q *queries) CreditBalance(ctx context.Context, userID string, amountCents int64, streak domain.StreakUpdate) error {
	if amountCents < 0 {
		return domain.Validationf("credit amount must not be negative, got %d", amountCents)
	}
	streakExpr := "win_streak"
	switch streak {
	case domain.StreakIncrement:
		streakExpr = "win_streak + 1"
	case domain.StreakReset:
		streakExpr = "0"
	}
	// no SQLite a soma estourada viraria REAL em silêncio
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET balance_cents = balance_cents + $2, win_streak = `+streakExpr+`
		WHERE id = $1 AND balance_cents <= $3
	`, userID, amountCents, math.MaxInt64-amountCents)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := q.GetUser(ctx, userID); err != nil {
		return err
	}
	return domain.Validationf("credit of %d would overflow the balance of %s", amountCents, userID)
}
