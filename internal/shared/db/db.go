package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/shared/config"
)

func ConnectPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// ConnectSQLite abre o banco embarcado. O SQLite serializa escritas, então
// uma conexão só evita SQLITE_BUSY entre transações concorrentes; com
// ":memory:" ela também é obrigatória, cada conexão teria um banco próprio.
func ConnectSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	return db, nil
}

// OpenStore conecta no driver configurado e garante o schema.
func OpenStore(ctx context.Context, cfg config.Config) (*repo.SQL, error) {
	d, err := repo.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	switch d {
	case repo.SQLite:
		conn, err = ConnectSQLite(cfg.SQLitePath)
	default:
		conn, err = ConnectPostgres(cfg.PostgresDSN)
	}
	if err != nil {
		return nil, err
	}

	store := repo.New(conn, d)
	if err := store.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}
