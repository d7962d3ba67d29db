// Package catalog keeps the SQLite record of ingested batches and runs.
//
// The catalog remembers every batch's export time so that recency can be
// applied against samples already in the store, and a fingerprint of the
// batch's matched files so unchanged, completed batches can be skipped.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// BatchStatus is the ingestion state of a batch.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchComplete BatchStatus = "complete"
	BatchPartial  BatchStatus = "partial"
)

// BatchRecord is one row of the batches table.
type BatchRecord struct {
	ID          string      `json:"id"`
	Path        string      `json:"path"`
	ExportedAt  time.Time   `json:"exported_at"`
	Fingerprint string      `json:"fingerprint"`
	Status      BatchStatus `json:"status"`
	IngestedAt  time.Time   `json:"ingested_at,omitempty"`
	Files       int         `json:"files"`
	Samples     int         `json:"samples"`
}

// Batch converts the record into the domain batch.
func (r BatchRecord) Batch() model.Batch {
	return model.Batch{ID: r.ID, Path: r.Path, ExportedAt: r.ExportedAt}
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     string    `json:"status"`
}

// Catalog is a SQLite-backed batch and run registry.
type Catalog struct {
	db  *sql.DB
	log logger.Logger
	now func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// Open opens or creates the catalog database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrOpen, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	// SQLite serializes writers; share a single connection.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the database.
func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  exported_at TEXT NOT NULL,
  fingerprint TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  ingested_at TEXT,
  files INTEGER NOT NULL DEFAULT 0,
  samples INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_failures (
  run_id TEXT NOT NULL REFERENCES runs(id),
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  batch_id TEXT,
  path TEXT NOT NULL,
  reason TEXT NOT NULL,
  PRIMARY KEY (run_id, seq)
);
`
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrOpen, err)
	}
	return nil
}

// RegisterBatch records a batch's path, export time and fingerprint. A
// changed fingerprint resets the batch to pending.
func (c *Catalog) RegisterBatch(ctx context.Context, b model.Batch, fingerprint string) error {
	const stmt = `
INSERT INTO batches (id, path, exported_at, fingerprint, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  path=excluded.path,
  exported_at=excluded.exported_at,
  status=CASE WHEN batches.fingerprint = excluded.fingerprint THEN batches.status ELSE excluded.status END,
  fingerprint=excluded.fingerprint;
`
	_, err := c.db.ExecContext(ctx, stmt, b.ID, b.Path, b.ExportedAt.UTC().Format(timeLayout), fingerprint, string(BatchPending))
	if err != nil {
		return fmt.Errorf("register batch %s: %w", b.ID, err)
	}
	return nil
}

// UpToDate reports whether the batch is complete with the given fingerprint.
func (c *Catalog) UpToDate(ctx context.Context, id, fingerprint string) (bool, error) {
	rec, err := c.Batch(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == BatchComplete && rec.Fingerprint == fingerprint, nil
}

// FinishBatch stores a batch's outcome.
func (c *Catalog) FinishBatch(ctx context.Context, id string, status BatchStatus, files, samples int) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, ingested_at = ?, files = ?, samples = ? WHERE id = ?`,
		string(status), c.now().UTC().Format(timeLayout), files, samples, id)
	if err != nil {
		return fmt.Errorf("finish batch %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}
	return nil
}

const batchColumns = `id, path, exported_at, fingerprint, status, ingested_at, files, samples`

func scanBatch(row interface{ Scan(...any) error }) (BatchRecord, error) {
	var (
		rec        BatchRecord
		exported   string
		status     string
		ingestedAt sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Path, &exported, &rec.Fingerprint, &status, &ingestedAt, &rec.Files, &rec.Samples); err != nil {
		return BatchRecord{}, err
	}
	rec.Status = BatchStatus(status)
	t, err := time.Parse(timeLayout, exported)
	if err != nil {
		return BatchRecord{}, fmt.Errorf("batch %s exported_at: %w", rec.ID, err)
	}
	rec.ExportedAt = t
	if ingestedAt.Valid && ingestedAt.String != "" {
		if t, err := time.Parse(timeLayout, ingestedAt.String); err == nil {
			rec.IngestedAt = t
		}
	}
	return rec, nil
}

// Batch returns one batch record.
func (c *Catalog) Batch(ctx context.Context, id string) (BatchRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	rec, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BatchRecord{}, fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}
	if err != nil {
		return BatchRecord{}, fmt.Errorf("read batch %s: %w", id, err)
	}
	return rec, nil
}

// Batches lists every known batch, oldest export first.
func (c *Catalog) Batches(ctx context.Context) ([]BatchRecord, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY exported_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StartRun opens a new run and returns its id.
func (c *Catalog) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx, `INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, c.now().UTC().Format(timeLayout), "running")
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run and stores its failures in one transaction.
func (c *Catalog) FinishRun(ctx context.Context, runID, status string, failures []model.Failure) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ? AND finished_at IS NULL`,
		c.now().UTC().Format(timeLayout), status, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}
	for i, f := range failures {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, seq, kind, batch_id, path, reason) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, string(f.Kind), f.Batch, f.Path, f.Reason); err != nil {
			return fmt.Errorf("record failure of run %s: %w", runID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	c.log.Debug(ctx, "run recorded", logger.String("run", runID), logger.String("status", status), logger.Int("failures", len(failures)))
	return nil
}

// Runs lists the most recent runs, newest first.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(timeLayout, finished.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunFailures returns the failures recorded for a run in report order.
func (c *Catalog) RunFailures(ctx context.Context, runID string) ([]model.Failure, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT kind, batch_id, path, reason FROM run_failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list failures of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []model.Failure
	for rows.Next() {
		var (
			f     model.Failure
			kind  string
			batch sql.NullString
		)
		if err := rows.Scan(&kind, &batch, &f.Path, &f.Reason); err != nil {
			return nil, fmt.Errorf("list failures of run %s: %w", runID, err)
		}
		f.Kind = model.FailureKind(kind)
		f.Batch = batch.String
		out = append(out, f)
	}
	return out, rows.Err()
}
