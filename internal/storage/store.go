package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for reconciliation runs and the
// per-recipient discrepancies found by failed runs.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id               TEXT PRIMARY KEY,
  chain_id         TEXT NOT NULL,
  payout_contract  TEXT NOT NULL,
  asset            TEXT,
  from_block       INTEGER NOT NULL,
  to_block         INTEGER,
  payouts          INTEGER NOT NULL,
  events           INTEGER NOT NULL,
  expected_base    TEXT NOT NULL,
  logged_base      TEXT NOT NULL,
  balance_base     TEXT,
  decimals         INTEGER NOT NULL,
  status           TEXT NOT NULL,
  error            TEXT,
  started_at       TIMESTAMP NOT NULL,
  finished_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS runs_by_contract ON runs(payout_contract, started_at);

CREATE TABLE IF NOT EXISTS discrepancies (
  run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  recipient      TEXT NOT NULL,
  expected_base  TEXT NOT NULL,
  logged_base    TEXT NOT NULL,
  PRIMARY KEY(run_id, recipient)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Run is a persisted reconciliation outcome. Amounts are base-unit integers
// kept as decimal strings so no precision is lost in SQLite.
type Run struct {
	ID             string
	ChainID        string
	PayoutContract string
	Asset          string
	FromBlock      uint64
	ToBlock        *uint64
	Payouts        int
	Events         int
	ExpectedBase   string
	LoggedBase     string
	BalanceBase    string
	Decimals       uint8
	Status         string
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Discrepancies  []Discrepancy
}

// Discrepancy is one recipient row of a mismatched run.
type Discrepancy struct {
	Recipient    string
	ExpectedBase string
	LoggedBase   string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// InsertRun stores a run and its discrepancies atomically. An empty ID is
// filled in; the primary key enforces exactly-once insertion.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	if r.PayoutContract == "" || r.Status == "" {
		return errors.New("payout_contract and status are required")
	}
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO runs (id, chain_id, payout_contract, asset, from_block, to_block, payouts, events,
                  expected_base, logged_base, balance_base, decimals, status, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, r.ID, r.ChainID, r.PayoutContract, nullString(r.Asset), r.FromBlock, nullUint(r.ToBlock), r.Payouts, r.Events,
			r.ExpectedBase, r.LoggedBase, nullString(r.BalanceBase), r.Decimals, r.Status, nullString(r.Error),
			r.StartedAt.UTC(), nullTime(r.FinishedAt))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, d := range r.Discrepancies {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO discrepancies (run_id, recipient, expected_base, logged_base)
VALUES (?, ?, ?, ?);
`, r.ID, d.Recipient, d.ExpectedBase, d.LoggedBase); err != nil {
				return fmt.Errorf("insert discrepancy %s: %w", d.Recipient, err)
			}
		}
		return nil
	})
}

// ListRuns returns the most recent runs first. A zero limit means no limit.
// Discrepancies are not loaded; use GetRun for the full record.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, chain_id, payout_contract, asset, from_block, to_block, payouts, events,
       expected_base, logged_base, balance_base, decimals, status, error, started_at, finished_at
FROM runs
ORDER BY started_at DESC, id
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// GetRun loads one run with its discrepancies.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, chain_id, payout_contract, asset, from_block, to_block, payouts, events,
       expected_base, logged_base, balance_base, decimals, status, error, started_at, finished_at
FROM runs WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT recipient, expected_base, logged_base FROM discrepancies WHERE run_id = ? ORDER BY recipient;
`, id)
	if err != nil {
		return Run{}, false, fmt.Errorf("get discrepancies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.Recipient, &d.ExpectedBase, &d.LoggedBase); err != nil {
			return Run{}, false, fmt.Errorf("scan discrepancy: %w", err)
		}
		r.Discrepancies = append(r.Discrepancies, d)
	}
	if err := rows.Err(); err != nil {
		return Run{}, false, fmt.Errorf("get discrepancies: %w", err)
	}
	return r, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                       Run
		asset, balance, errText sql.NullString
		toBlock                 sql.NullInt64
	)
	err := sc.Scan(&r.ID, &r.ChainID, &r.PayoutContract, &asset, &r.FromBlock, &toBlock, &r.Payouts, &r.Events,
		&r.ExpectedBase, &r.LoggedBase, &balance, &r.Decimals, &r.Status, &errText, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Asset = asset.String
	r.BalanceBase = balance.String
	r.Error = errText.String
	if toBlock.Valid {
		v := uint64(toBlock.Int64)
		r.ToBlock = &v
	}
	return r, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
