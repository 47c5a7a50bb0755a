package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/internal/domain"
)

const predictionColumns = `id, round_id, user_id, mode, amount_cents, side, range_idx, range_min, range_max,
result, payout_cents, created_at_ms, settled_at_ms`

func (q *queries) InsertPrediction(ctx context.Context, p *domain.Prediction) error {
	var (
		side     sql.NullString
		rangeIdx sql.NullInt64
		lo, hi   decimal.NullDecimal
	)
	if s, ok := p.Choice.Side(); ok {
		side = sql.NullString{String: string(s), Valid: true}
	}
	if pr, ok := p.Choice.Range(); ok {
		rangeIdx = sql.NullInt64{Int64: int64(pr.Index), Valid: true}
		lo = decimal.NewNullDecimal(pr.Min)
		hi = decimal.NewNullDecimal(pr.Max)
	}

	result := p.Result
	if result == "" {
		result = domain.ResultPending
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO predictions (id, round_id, user_id, mode, amount_cents, side, range_idx,
		                         range_min, range_max, result, payout_cents, created_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.RoundID, p.UserID, string(p.Mode), p.AmountCents, side, rangeIdx,
		lo, hi, string(result), p.PayoutCents, toMs(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePrediction
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (q *queries) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPredictionNotFound
	}
	return p, err
}

func (q *queries) ListPredictionsByRound(ctx context.Context, roundID string) ([]domain.Prediction, error) {
	return q.queryPredictions(ctx, `
		SELECT `+predictionColumns+` FROM predictions
		WHERE round_id = $1 ORDER BY created_at_ms ASC, id ASC
	`, roundID)
}

func (q *queries) ListPredictionsByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Prediction, error) {
	limit, offset = ClampPage(limit, offset, MaxPageSize)
	return q.queryPredictions(ctx, `
		SELECT `+predictionColumns+` FROM predictions
		WHERE user_id = $1 ORDER BY created_at_ms DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

func (q *queries) SettlePrediction(ctx context.Context, id string, res domain.Result, payoutCents int64, at time.Time) (bool, error) {
	var won sql.NullBool
	if w := res.Won(); w != nil {
		won = sql.NullBool{Bool: *w, Valid: true}
	}
	r, err := q.db.ExecContext(ctx, `
		UPDATE predictions
		SET result = $2, won = $3, payout_cents = $4, settled_at_ms = $5
		WHERE id = $1 AND result = $6
	`, id, string(res), won, payoutCents, toMs(at), string(domain.ResultPending))
	if err != nil {
		return false, fmt.Errorf("settle prediction: %w", err)
	}
	return affected(r)
}

func (q *queries) queryPredictions(ctx context.Context, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPrediction(s scanner) (*domain.Prediction, error) {
	var (
		p                  domain.Prediction
		mode, result       string
		side               sql.NullString
		rangeIdx           sql.NullInt64
		rangeMin, rangeMax decimal.NullDecimal
		createdMs          int64
		settledMs          sql.NullInt64
	)
	if err := s.Scan(&p.ID, &p.RoundID, &p.UserID, &mode, &p.AmountCents, &side, &rangeIdx,
		&rangeMin, &rangeMax, &result, &p.PayoutCents, &createdMs, &settledMs); err != nil {
		return nil, err
	}
	p.Mode = domain.Mode(mode)
	p.Result = domain.Result(result)
	p.CreatedAt = fromMs(createdMs)
	p.SettledAt = ptrFromMs(settledMs)
	switch {
	case side.Valid:
		p.Choice = domain.SideChoice(domain.Side(side.String))
	case rangeIdx.Valid:
		p.Choice = domain.RangeChoice(domain.PriceRange{
			Index: int(rangeIdx.Int64),
			Min:   rangeMin.Decimal,
			Max:   rangeMax.Decimal,
		})
	}
	return &p, nil
}
