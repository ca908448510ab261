// Package store keeps the dataset cache and the run ledger in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	name TEXT PRIMARY KEY,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	dataset TEXT NOT NULL,
	split TEXT NOT NULL,
	idx INTEGER NOT NULL,
	text TEXT NOT NULL,
	label INTEGER NOT NULL,
	PRIMARY KEY (dataset, split, idx)
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	backbone TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS epochs (
	run_id TEXT NOT NULL REFERENCES runs(id),
	epoch INTEGER NOT NULL,
	global_step INTEGER NOT NULL,
	train_loss REAL NOT NULL,
	eval_loss REAL NOT NULL,
	accuracy REAL NOT NULL,
	f1 REAL NOT NULL,
	checkpoint TEXT,
	PRIMARY KEY (run_id, epoch)
);

CREATE TABLE IF NOT EXISTS holdout_evals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	examples INTEGER NOT NULL,
	accuracy REAL NOT NULL,
	precision REAL NOT NULL,
	recall REAL NOT NULL,
	f1 REAL NOT NULL,
	evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_holdout_fingerprint ON holdout_evals(fingerprint);
`

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Review is one cached dataset row.
type Review struct {
	Text  string `db:"text"`
	Label int    `db:"label"`
}

// Run is a ledger entry for one pipeline execution.
type Run struct {
	ID           string         `db:"id"`
	Dataset      string         `db:"dataset"`
	Backbone     string         `db:"backbone"`
	Config       string         `db:"config"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
}

// Epoch is the ledger record of one training epoch.
type Epoch struct {
	RunID      string  `db:"run_id"`
	Epoch      int     `db:"epoch"`
	GlobalStep int     `db:"global_step"`
	TrainLoss  float64 `db:"train_loss"`
	EvalLoss   float64 `db:"eval_loss"`
	Accuracy   float64 `db:"accuracy"`
	F1         float64 `db:"f1"`
	Checkpoint string  `db:"checkpoint"`
}

// HoldoutEval records one evaluation of a held-out test partition.
type HoldoutEval struct {
	ID          int64     `db:"id"`
	RunID       string    `db:"run_id"`
	Fingerprint string    `db:"fingerprint"`
	Examples    int       `db:"examples"`
	Accuracy    float64   `db:"accuracy"`
	Precision   float64   `db:"precision"`
	Recall      float64   `db:"recall"`
	F1          float64   `db:"f1"`
	EvaluatedAt time.Time `db:"evaluated_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// HasDataset reports whether a complete copy of the dataset is cached.
func (s *Store) HasDataset(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM datasets WHERE name = ?`, name); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveDataset replaces the cached rows of a dataset in one transaction.
func (s *Store) SaveDataset(ctx context.Context, name string, splits map[string][]Review) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE dataset = ?`, name); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO reviews (dataset, split, idx, text, label) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for split, rows := range splits {
		for i, r := range rows {
			if _, err := stmt.ExecContext(ctx, name, split, i, r.Text, r.Label); err != nil {
				return fmt.Errorf("insert %s/%s row %d: %w", name, split, i, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (name, fetched_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET fetched_at = excluded.fetched_at`,
		name, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("dataset cached", zap.String("dataset", name), zap.Int("splits", len(splits)))
	return nil
}

// LoadSplit returns the cached rows of one split in their original order.
func (s *Store) LoadSplit(ctx context.Context, name, split string) ([]Review, error) {
	var rows []Review
	err := s.db.SelectContext(ctx, &rows,
		`SELECT text, label FROM reviews WHERE dataset = ? AND split = ? ORDER BY idx`, name, split)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// StartRun inserts a running ledger entry.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO runs (id, dataset, backbone, config, status, started_at)
		 VALUES (:id, :dataset, :backbone, :config, :status, :started_at)`, run)
	return err
}

// FinishRun marks a run finished, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := RunFinished, sql.NullString{}
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, msg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordEpoch stores one epoch result.
func (s *Store) RecordEpoch(ctx context.Context, e Epoch) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO epochs (run_id, epoch, global_step, train_loss, eval_loss, accuracy, f1, checkpoint)
		 VALUES (:run_id, :epoch, :global_step, :train_loss, :eval_loss, :accuracy, :f1, :checkpoint)`, e)
	return err
}

// Epochs lists a run's epochs in order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]Epoch, error) {
	var out []Epoch
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	return out, err
}

// RecordHoldout stores a holdout evaluation.
func (s *Store) RecordHoldout(ctx context.Context, h HoldoutEval) error {
	if h.EvaluatedAt.IsZero() {
		h.EvaluatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO holdout_evals (run_id, fingerprint, examples, accuracy, precision, recall, f1, evaluated_at)
		 VALUES (:run_id, :fingerprint, :examples, :accuracy, :precision, :recall, :f1, :evaluated_at)`, h)
	return err
}

// HoldoutEvaluations returns earlier evaluations of the same holdout set.
func (s *Store) HoldoutEvaluations(ctx context.Context, fingerprint string) ([]HoldoutEval, error) {
	var out []HoldoutEval
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM holdout_evals WHERE fingerprint = ? ORDER BY id`, fingerprint)
	return out, err
}
