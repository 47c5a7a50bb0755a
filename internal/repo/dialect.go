package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect isola as poucas diferenças entre Postgres e SQLite. As queries usam
// placeholders $N, aceitos pelos dois drivers.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// ParseDialect traduz DB_DRIVER.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Postgres, fmt.Errorf("unknown db driver %q", s)
}

// priceType guarda preços sem perda: NUMERIC no Postgres, TEXT no SQLite.
func (d Dialect) priceType() string {
	if d == SQLite {
		return "TEXT"
	}
	return "NUMERIC(38,18)"
}

const (
	pqUniqueViolation = "23505"
)

// isUniqueViolation reconhece violação de UNIQUE nos dois drivers.
func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code) == pqUniqueViolation
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
	}
	return false
}

// Migrate cria o schema se ainda não existir.
func (s *SQL) Migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(schema, "{{price}}", s.d.priceType())
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.d, err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    balance_cents BIGINT  NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
    win_streak    INTEGER NOT NULL DEFAULT 0,
    created_at_ms BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS rounds (
    id               TEXT PRIMARY KEY,
    mode             TEXT   NOT NULL,
    status           TEXT   NOT NULL,
    start_time_ms    BIGINT NOT NULL,
    end_time_ms      BIGINT NOT NULL,
    resolved_at_ms   BIGINT,
    start_price      {{price}} NOT NULL,
    end_price        {{price}},
    pool_up_cents    BIGINT NOT NULL DEFAULT 0,
    pool_down_cents  BIGINT NOT NULL DEFAULT 0,
    total_pool_cents BIGINT NOT NULL DEFAULT 0,
    created_at_ms    BIGINT NOT NULL,
    updated_at_ms    BIGINT NOT NULL,
    CHECK (end_time_ms > start_time_ms)
);

CREATE INDEX IF NOT EXISTS idx_rounds_status_end ON rounds(status, end_time_ms);
CREATE INDEX IF NOT EXISTS idx_rounds_resolved   ON rounds(resolved_at_ms);

-- Faixas do modo LEGENDS, uma linha por faixa
CREATE TABLE IF NOT EXISTS round_ranges (
    round_id   TEXT    NOT NULL REFERENCES rounds(id),
    idx        INTEGER NOT NULL,
    min_price  {{price}} NOT NULL,
    max_price  {{price}} NOT NULL,
    pool_cents BIGINT  NOT NULL DEFAULT 0,
    PRIMARY KEY (round_id, idx)
);

-- user_id sem FK: o usuário pertence a outro serviço
CREATE TABLE IF NOT EXISTS predictions (
    id            TEXT PRIMARY KEY,
    round_id      TEXT   NOT NULL REFERENCES rounds(id),
    user_id       TEXT   NOT NULL,
    mode          TEXT   NOT NULL,
    amount_cents  BIGINT NOT NULL CHECK (amount_cents > 0),
    side          TEXT,
    range_idx     INTEGER,
    range_min     {{price}},
    range_max     {{price}},
    result        TEXT   NOT NULL DEFAULT 'PENDING',
    won           BOOLEAN,
    payout_cents  BIGINT NOT NULL DEFAULT 0,
    created_at_ms BIGINT NOT NULL,
    settled_at_ms BIGINT,
    CONSTRAINT uq_predictions_round_user UNIQUE (round_id, user_id),
    CHECK ((side IS NULL) <> (range_idx IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_predictions_user ON predictions(user_id, created_at_ms);

CREATE TABLE IF NOT EXISTS user_stats (
    user_id                TEXT PRIMARY KEY,
    total_predictions      BIGINT NOT NULL DEFAULT 0,
    correct_predictions    BIGINT NOT NULL DEFAULT 0,
    total_earnings_cents   BIGINT NOT NULL DEFAULT 0,
    updown_wins            BIGINT NOT NULL DEFAULT 0,
    updown_losses          BIGINT NOT NULL DEFAULT 0,
    updown_earnings_cents  BIGINT NOT NULL DEFAULT 0,
    legends_wins           BIGINT NOT NULL DEFAULT 0,
    legends_losses         BIGINT NOT NULL DEFAULT 0,
    legends_earnings_cents BIGINT NOT NULL DEFAULT 0,
    updated_at_ms          BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_stats_earnings ON user_stats(total_earnings_cents);
`
