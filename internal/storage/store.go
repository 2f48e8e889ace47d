// Package storage persists analysis runs in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/alphastep/internal/steps"
	"github.com/chrissnell/alphastep/pkg/migrate"
)

//go:embed migrations
var migrations embed.FS

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunRecord is one stored analysis.
type RunRecord struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	Samples   int           `json:"samples"`
	Config    steps.Config  `json:"config"`
	Summary   steps.Summary `json:"summary"`
	Objective float64       `json:"objective"`
	RMS       float64       `json:"rms"`
	Stages    int           `json:"stages"`
	Diverged  bool          `json:"diverged"`
	Warnings  []string      `json:"warnings"`
	Steps     []steps.Step  `json:"steps,omitempty"`
}

// NewRunRecord captures the parts of an analysis worth keeping.
func NewRunRecord(name string, an *steps.Analysis) RunRecord {
	rec := RunRecord{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Samples:   len(an.Padded),
		Config:    an.Config,
		Summary:   an.Table.Summary,
		Warnings:  append([]string{}, an.Warnings...),
	}
	if an.Run != nil {
		rec.Stages = len(an.Run.Stages)
		rec.Diverged = an.Run.Diverged
	}
	if final := an.Final(); final != nil {
		rec.Objective = final.Objective
		rec.RMS = final.RMS
		rec.Steps = append([]steps.Step(nil), final.Steps...)
	}
	return rec
}

// Store reads and writes runs through database/sql.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.SugaredLogger
}

// Open connects to the database and applies pending migrations. driver is
// "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (use sqlite or postgres)", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s storage requires a DSN", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite serializes writers, and ":memory:" is per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	m := NewMigrator(db, driver, logger)
	if err := m.MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", driver, err)
	}

	logger.Infof("run store ready (%s)", driver)
	return &Store{db: db, driver: driver, logger: logger}, nil
}

// NewMigrator returns a migrator over the embedded run store schema for
// driver ("sqlite" or "postgres").
func NewMigrator(db *sql.DB, driver string, logger *zap.SugaredLogger) *migrate.Migrator {
	return migrate.NewMigrator(db, migrate.NewFSProvider(migrations, "migrations/"+driver, driver), logger)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveRun stores rec and its steps in one transaction. A nil ID is replaced
// with a new random one.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}

	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode config: %w", err)
	}
	summaryJSON, err := json.Marshal(rec.Summary)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	warningsJSON, err := json.Marshal(rec.Warnings)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, name, created_at, samples, config, summary, objective, rms, stages, diverged, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID.String(), rec.Name, rec.CreatedAt.UnixMilli(), rec.Samples,
		string(cfgJSON), string(summaryJSON), rec.Objective, rec.RMS, rec.Stages, rec.Diverged, string(warningsJSON))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run: %w", err)
	}

	stepSQL := s.rebind(`
		INSERT INTO run_steps (run_id, idx, start_idx, end_idx, level, height, dwell, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, st := range rec.Steps {
		if _, err := tx.ExecContext(ctx, stepSQL, rec.ID.String(), i, st.Start, st.End, st.Level, st.Height, st.Dwell, st.Position); err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debugf("saved run %s (%d steps)", rec.ID, len(rec.Steps))
	return rec.ID, nil
}

const runColumns = `id, name, created_at, samples, config, summary, objective, rms, stages, diverged, warnings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec                   RunRecord
		created               int64
		cfg, summary, warning string
	)
	err := row.Scan(&rec.ID, &rec.Name, &created, &rec.Samples, &cfg, &summary,
		&rec.Objective, &rec.RMS, &rec.Stages, &rec.Diverged, &warning)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return rec, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return rec, fmt.Errorf("failed to decode summary: %w", err)
	}
	if err := json.Unmarshal([]byte(warning), &rec.Warnings); err != nil {
		return rec, fmt.Errorf("failed to decode warnings: %w", err)
	}
	return rec, nil
}

// GetRun loads one run with its steps.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id.String())
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT start_idx, end_idx, level, height, dwell, position
		FROM run_steps WHERE run_id = ? ORDER BY idx`), id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of run %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st steps.Step
		if err := rows.Scan(&st.Start, &st.End, &st.Level, &st.Height, &st.Dwell, &st.Position); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		rec.Steps = append(rec.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns the most recent runs without their steps, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its steps.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM run_steps WHERE run_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete steps of run %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}
