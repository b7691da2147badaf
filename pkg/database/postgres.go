package database

import (
	"context"
	"time"

	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// NewPostgresDB abre el pool de PostgreSQL y verifica la conexión
func NewPostgresDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, errx.Wrap(err, "failed to open database", errx.TypeInternal).
			WithDetail("host", cfg.Host).
			WithDetail("db", cfg.DBName)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errx.Wrap(err, "failed to ping database", errx.TypeInternal).
			WithDetail("host", cfg.Host).
			WithDetail("db", cfg.DBName)
	}

	return db, nil
}

// EnsureSchema runs every schema statement inside one transaction.
// Statements must be idempotent.
func EnsureSchema(ctx context.Context, db *sqlx.DB, schemas ...string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin schema transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	for i, schema := range schemas {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return errx.Wrap(err, "failed to apply schema", errx.TypeInternal).
				WithDetail("statement", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit schema", errx.TypeInternal)
	}
	return nil
}

// CloseDB cierra el pool si existe
func CloseDB(db *sqlx.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
