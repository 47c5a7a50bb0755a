package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/internal/domain"
)

const roundColumns = `id, mode, status, start_time_ms, end_time_ms, resolved_at_ms,
start_price, end_price, pool_up_cents, pool_down_cents, total_pool_cents, created_at_ms`

func (q *queries) InsertRound(ctx context.Context, r *domain.Round) error {
	now := toMs(r.CreatedAt)
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rounds (id, mode, status, start_time_ms, end_time_ms, start_price,
		                    pool_up_cents, pool_down_cents, total_pool_cents, created_at_ms, updated_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, r.ID, string(r.Mode), string(r.Status), toMs(r.StartTime), toMs(r.EndTime), r.StartPrice,
		r.PoolUpCents, r.PoolDownCents, r.TotalPoolCents, now)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	for _, pr := range r.Ranges {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO round_ranges (round_id, idx, min_price, max_price, pool_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, r.ID, pr.Index, pr.Min, pr.Max, pr.PoolCents); err != nil {
			return fmt.Errorf("insert round range: %w", err)
		}
	}
	return nil
}

func (q *queries) GetRound(ctx context.Context, id string) (*domain.Round, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Mode == domain.ModeLegends {
		if r.Ranges, err = q.listRanges(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (q *queries) ListRounds(ctx context.Context, f RoundFilter) ([]domain.Round, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		in, a := inStatuses(len(args)+1, f.Statuses)
		where = append(where, "status IN "+in)
		args = append(args, a...)
	}
	if f.Mode != "" {
		args = append(args, string(f.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}
	if f.EndBefore != nil {
		args = append(args, toMs(*f.EndBefore))
		where = append(where, fmt.Sprintf("end_time_ms <= $%d", len(args)))
	}
	if f.EndAfter != nil {
		args = append(args, toMs(*f.EndAfter))
		where = append(where, fmt.Sprintf("end_time_ms > $%d", len(args)))
	}

	query := `SELECT ` + roundColumns + ` FROM rounds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY end_time_ms ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return q.queryRounds(ctx, query, args...)
}

func (q *queries) ListHistory(ctx context.Context, f HistoryFilter) ([]domain.Round, error) {
	limit, offset := ClampPage(f.Limit, f.Offset, MaxPageSize)
	args := []any{string(domain.StatusResolved)}
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE status = $1`
	if f.Mode != "" {
		args = append(args, string(f.Mode))
		query += fmt.Sprintf(" AND mode = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY resolved_at_ms DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return q.queryRounds(ctx, query, args...)
}

func (q *queries) TransitionRound(ctx context.Context, id string, from []domain.RoundStatus, to domain.RoundStatus, at time.Time) (bool, error) {
	in, a := inStatuses(4, from)
	args := append([]any{id, string(to), toMs(at)}, a...)
	res, err := q.db.ExecContext(ctx, `
		UPDATE rounds SET status = $2, updated_at_ms = $3
		WHERE id = $1 AND status IN `+in, args...)
	if err != nil {
		return false, fmt.Errorf("transition round: %w", err)
	}
	return affected(res)
}

func (q *queries) ClaimRound(ctx context.Context, id string, from []domain.RoundStatus, to domain.RoundStatus, endPrice *decimal.Decimal, resolvedAt *time.Time, at time.Time) (bool, error) {
	var ep decimal.NullDecimal
	if endPrice != nil {
		ep = decimal.NewNullDecimal(*endPrice)
	}
	in, a := inStatuses(6, from)
	args := append([]any{id, string(to), ep, nullMs(resolvedAt), toMs(at)}, a...)
	res, err := q.db.ExecContext(ctx, `
		UPDATE rounds SET status = $2, end_price = $3, resolved_at_ms = $4, updated_at_ms = $5
		WHERE id = $1 AND status IN `+in, args...)
	if err != nil {
		return false, fmt.Errorf("claim round: %w", err)
	}
	return affected(res)
}

func (q *queries) AddRoundStake(ctx context.Context, roundID string, c domain.Choice, amountCents int64, now time.Time) (bool, error) {
	up, down := int64(0), int64(0)
	if s, ok := c.Side(); ok {
		if s == domain.SideUp {
			up = amountCents
		} else {
			down = amountCents
		}
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE rounds
		SET total_pool_cents = total_pool_cents + $2,
		    pool_up_cents    = pool_up_cents + $3,
		    pool_down_cents  = pool_down_cents + $4,
		    updated_at_ms    = $5
		WHERE id = $1 AND status = $6 AND end_time_ms > $5
	`, roundID, amountCents, up, down, toMs(now), string(domain.StatusActive))
	if err != nil {
		return false, fmt.Errorf("add round stake: %w", err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return ok, err
	}

	if pr, isRange := c.Range(); isRange {
		res, err := q.db.ExecContext(ctx, `
			UPDATE round_ranges SET pool_cents = pool_cents + $3
			WHERE round_id = $1 AND idx = $2
		`, roundID, pr.Index, amountCents)
		if err != nil {
			return false, fmt.Errorf("add range stake: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return false, domain.Validationf("range %d not found in round %s", pr.Index, roundID)
		}
	}
	return true, nil
}

func (q *queries) listRanges(ctx context.Context, roundID string) ([]domain.PriceRange, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT idx, min_price, max_price, pool_cents
		FROM round_ranges WHERE round_id = $1 ORDER BY idx
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceRange
	for rows.Next() {
		var pr domain.PriceRange
		if err := rows.Scan(&pr.Index, &pr.Min, &pr.Max, &pr.PoolCents); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (q *queries) queryRounds(ctx context.Context, query string, args ...any) ([]domain.Round, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// fecha antes de buscar as faixas: com uma conexão só (SQLite) o cursor aberto travaria
	rows.Close()

	for i := range out {
		if out[i].Mode != domain.ModeLegends {
			continue
		}
		if out[i].Ranges, err = q.listRanges(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(s scanner) (*domain.Round, error) {
	var (
		r              domain.Round
		mode, status   string
		startMs, endMs int64
		resolvedMs     sql.NullInt64
		endPrice       decimal.NullDecimal
		createdMs      int64
	)
	if err := s.Scan(&r.ID, &mode, &status, &startMs, &endMs, &resolvedMs,
		&r.StartPrice, &endPrice, &r.PoolUpCents, &r.PoolDownCents, &r.TotalPoolCents, &createdMs); err != nil {
		return nil, err
	}
	r.Mode = domain.Mode(mode)
	r.Status = domain.RoundStatus(status)
	r.StartTime = fromMs(startMs)
	r.EndTime = fromMs(endMs)
	r.ResolvedAt = ptrFromMs(resolvedMs)
	r.CreatedAt = fromMs(createdMs)
	if endPrice.Valid {
		p := endPrice.Decimal
		r.EndPrice = &p
	}
	return &r, nil
}

// inStatuses monta "($n,$n+1,...)" para uma lista de status.
func inStatuses(start int, st []domain.RoundStatus) (string, []any) {
	ph := make([]string, len(st))
	args := make([]any, len(st))
	for i, s := range st {
		ph[i] = fmt.Sprintf("$%d", start+i)
		args[i] = string(s)
	}
	return "(" + strings.Join(ph, ",") + ")", args
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
