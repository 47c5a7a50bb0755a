package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/prediction-rounds/internal/domain"
)

const statsColumns = `user_id, total_predictions, correct_predictions, total_earnings_cents,
updown_wins, updown_losses, updown_earnings_cents, legends_wins, legends_losses, legends_earnings_cents,
updated_at_ms`

// AddUserStats cria a linha ou soma o delta aos contadores existentes.
func (q *queries) AddUserStats(ctx context.Context, userID string, d domain.StatsDelta, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, total_predictions, correct_predictions, total_earnings_cents,
		                        updown_wins, updown_losses, updown_earnings_cents,
		                        legends_wins, legends_losses, legends_earnings_cents, updated_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO UPDATE SET
		    total_predictions      = user_stats.total_predictions + excluded.total_predictions,
		    correct_predictions    = user_stats.correct_predictions + excluded.correct_predictions,
		    total_earnings_cents   = user_stats.total_earnings_cents + excluded.total_earnings_cents,
		    updown_wins            = user_stats.updown_wins + excluded.updown_wins,
		    updown_losses          = user_stats.updown_losses + excluded.updown_losses,
		    updown_earnings_cents  = user_stats.updown_earnings_cents + excluded.updown_earnings_cents,
		    legends_wins           = user_stats.legends_wins + excluded.legends_wins,
		    legends_losses         = user_stats.legends_losses + excluded.legends_losses,
		    legends_earnings_cents = user_stats.legends_earnings_cents + excluded.legends_earnings_cents,
		    updated_at_ms          = excluded.updated_at_ms
	`, userID, d.TotalPredictions, d.CorrectPredictions, d.TotalEarningsCents,
		d.UpDownWins, d.UpDownLosses, d.UpDownEarningsCents,
		d.LegendsWins, d.LegendsLosses, d.LegendsEarningsCents, toMs(at))
	if err != nil {
		return fmt.Errorf("add user stats: %w", err)
	}
	return nil
}

func (q *queries) GetUserStats(ctx context.Context, userID string) (*domain.UserStats, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1`, userID)
	s, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return s, err
}

// ListStatsByEarnings ordena por ganhos desc; empate resolvido por user_id para
// a paginação ser estável.
func (q *queries) ListStatsByEarnings(ctx context.Context, limit, offset int) ([]domain.UserStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+statsColumns+` FROM user_stats
		ORDER BY total_earnings_cents DESC, user_id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserStats
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (q *queries) CountEarningsAbove(ctx context.Context, earningsCents int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_stats WHERE total_earnings_cents > $1
	`, earningsCents).Scan(&n)
	return n, err
}

func scanStats(s scanner) (*domain.UserStats, error) {
	var (
		st        domain.UserStats
		updatedMs int64
	)
	if err := s.Scan(&st.UserID, &st.TotalPredictions, &st.CorrectPredictions, &st.TotalEarningsCents,
		&st.UpDownWins, &st.UpDownLosses, &st.UpDownEarningsCents,
		&st.LegendsWins, &st.LegendsLosses, &st.LegendsEarningsCents, &updatedMs); err != nil {
		return nil, err
	}
	st.UpdatedAt = fromMs(updatedMs)
	return &st, nil
}
