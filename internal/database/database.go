package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/gitflow-ai/gitflow-mcp/internal/config"
	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

// Queries slower than this are logged at warning.
const slowQueryThreshold = 100 * time.Millisecond

// DB wraps the connection pool with query helpers that time every
// statement.
type DB struct {
	*sqlx.DB
}

// Open creates the connection pool and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// QueryOne scans a single row into dest.
func (d *DB) QueryOne(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := d.GetContext(ctx, dest, query, args...)
	d.observe(query, start)
	return err
}

// QueryMany scans all rows into dest, which must be a slice pointer.
func (d *DB) QueryMany(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := d.SelectContext(ctx, dest, query, args...)
	d.observe(query, start)
	return err
}

// Query executes a statement that returns no rows of interest.
func (d *DB) Query(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := d.ExecContext(ctx, query, args...)
	d.observe(query, start)
	return res, err
}

// WithTx runs fn inside a transaction: commit on nil return, rollback on
// error or panic. The connection is released on every exit path.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (d *DB) observe(query string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed > slowQueryThreshold {
		logging.Logger.Warn("slow query", "duration", elapsed.String(), "query", truncateQuery(query))
	}
}

func truncateQuery(q string) string {
	const max = 120
	if len(q) > max {
		return q[:max] + "..."
	}
	return q
}
