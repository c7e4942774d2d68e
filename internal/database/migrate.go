package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gitflow-ai/gitflow-mcp/internal/logging"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrChecksumMismatch indicates migration drift: an applied migration's
// file content no longer matches the checksum recorded at apply time.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// Migrator applies versioned SQL files in lexicographic order and records
// each application in schema_migrations together with a content checksum.
type Migrator struct {
	db  *DB
	src fs.FS
}

// MigrationStatus describes one migration file relative to the database.
type MigrationStatus struct {
	Version         string
	Applied         bool
	AppliedAt       time.Time
	ExecutionTimeMs int64
	Checksum        string
}

// NewMigrator creates a migrator reading from the embedded migrations
// directory.
func NewMigrator(db *DB) (*Migrator, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return &Migrator{db: db, src: sub}, nil
}

// NewMigratorFromFS creates a migrator reading from an arbitrary source,
// used by tests and the CLI's directory override.
func NewMigratorFromFS(db *DB, src fs.FS) *Migrator {
	return &Migrator{db: db, src: src}
}

// Run applies all pending migrations in order, each in its own
// transaction. Before touching anything it verifies that no applied
// migration has drifted from its recorded checksum. A single failure
// halts the run. With dryRun set, pending versions are reported but not
// executed.
func (m *Migrator) Run(ctx context.Context, dryRun bool) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}

	applied, err := m.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	// Drift detection across the whole set before executing anything.
	for _, f := range files {
		rec, ok := applied[f.version]
		if !ok {
			continue
		}
		if rec.checksum != f.checksum {
			return nil, fmt.Errorf("%w: %s: applied checksum %s.. differs from file checksum %s..",
				ErrChecksumMismatch, f.version, prefix(rec.checksum), prefix(f.checksum))
		}
	}

	var ran []string
	for _, f := range files {
		if _, ok := applied[f.version]; ok {
			continue
		}
		if dryRun {
			ran = append(ran, f.version)
			continue
		}

		start := time.Now()
		err := m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, f.content); err != nil {
				return fmt.Errorf("migration %s failed: %w", f.version, err)
			}
			const record = `
				INSERT INTO schema_migrations (version, applied_at, execution_time_ms, checksum)
				VALUES ($1, NOW(), $2, $3)
			`
			elapsed := time.Since(start).Milliseconds()
			if _, err := tx.ExecContext(ctx, record, f.version, elapsed, f.checksum); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", f.version, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}

		logging.Logger.Info("applied migration", "version", f.version, "duration", time.Since(start).String())
		ran = append(ran, f.version)
	}

	return ran, nil
}

// Status reports applied/pending per version, flagging drift but not
// failing on it.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}
	applied, err := m.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		st := MigrationStatus{Version: f.version, Checksum: f.checksum}
		if rec, ok := applied[f.version]; ok {
			st.Applied = true
			st.AppliedAt = rec.appliedAt
			st.ExecutionTimeMs = rec.executionTimeMs
			st.Checksum = rec.checksum
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

type migrationFile struct {
	version  string
	content  string
	checksum string
}

type appliedRecord struct {
	appliedAt       time.Time
	executionTimeMs int64
	checksum        string
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			execution_time_ms BIGINT NOT NULL DEFAULT 0,
			checksum CHAR(64) NOT NULL
		)
	`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) listFiles() ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.src, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	files := make([]migrationFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(m.src, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		files = append(files, migrationFile{
			version:  strings.TrimSuffix(e.Name(), ".sql"),
			content:  string(content),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	// Filenames sort lexicographically to imply order.
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func (m *Migrator) loadApplied(ctx context.Context) (map[string]appliedRecord, error) {
	const query = `SELECT version, applied_at, execution_time_ms, checksum FROM schema_migrations`

	rows := []struct {
		Version         string    `db:"version"`
		AppliedAt       time.Time `db:"applied_at"`
		ExecutionTimeMs int64     `db:"execution_time_ms"`
		Checksum        string    `db:"checksum"`
	}{}
	if err := m.db.SelectContext(ctx, &rows, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]appliedRecord{}, nil
		}
		return nil, fmt.Errorf("failed to load applied migrations: %w", err)
	}

	applied := make(map[string]appliedRecord, len(rows))
	for _, r := range rows {
		applied[r.Version] = appliedRecord{
			appliedAt:       r.AppliedAt,
			executionTimeMs: r.ExecutionTimeMs,
			checksum:        strings.TrimSpace(r.Checksum),
		}
	}
	return applied, nil
}

func prefix(checksum string) string {
	if len(checksum) > 8 {
		return checksum[:8]
	}
	return checksum
}
