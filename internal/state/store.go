package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS action_weights (
	situation_key TEXT NOT NULL,
	action_key    TEXT NOT NULL,
	weight        REAL NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (situation_key, action_key)
);

CREATE TABLE IF NOT EXISTS weight_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	situation_key TEXT NOT NULL,
	action_key    TEXT NOT NULL,
	before_weight REAL NOT NULL,
	after_weight  REAL NOT NULL,
	outcome       TEXT NOT NULL,
	turn_id       TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_weight_history_situation
	ON weight_history (situation_key, id);
`

// #endregion schema

// #region store-struct
// Store manages the weight table in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region load-weights
// LoadWeights reads the full weight table.
func (s *Store) LoadWeights(ctx context.Context) ([]WeightRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT situation_key, action_key, weight, updated_at
		 FROM action_weights ORDER BY situation_key, action_key`)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	defer rows.Close()

	var records []WeightRecord
	for rows.Next() {
		var rec WeightRecord
		var updatedStr string
		if err := rows.Scan(&rec.SituationKey, &rec.ActionKey, &rec.Weight, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan weight: %w", err)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion load-weights

// #region save-weight
// SaveWeight upserts the weight and appends a history row in one transaction.
func (s *Store) SaveWeight(ctx context.Context, ch WeightChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updated := ch.UpdatedAt.UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO action_weights (situation_key, action_key, weight, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(situation_key, action_key) DO UPDATE SET
			weight = excluded.weight, updated_at = excluded.updated_at`,
		ch.SituationKey, ch.ActionKey, ch.Weight, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert weight: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO weight_history
			(situation_key, action_key, before_weight, after_weight, outcome, turn_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.SituationKey, ch.ActionKey, ch.Before, ch.Weight, ch.Outcome, nullIfEmpty(ch.TurnID), updated,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion save-weight

// #region delete-situation
// DeleteSituation removes every weight for situationKey. History is kept.
func (s *Store) DeleteSituation(ctx context.Context, situationKey string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_weights WHERE situation_key = ?`, situationKey)
	if err != nil {
		return 0, fmt.Errorf("delete situation %s: %w", situationKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// #endregion delete-situation

// #region history
// History returns the most recent weight changes, newest first. An empty
// situationKey lists all situations.
func (s *Store) History(ctx context.Context, situationKey string, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, situation_key, action_key, before_weight, after_weight, outcome, turn_id, created_at
		FROM weight_history`
	args := []any{}
	if situationKey != "" {
		query += ` WHERE situation_key = ?`
		args = append(args, situationKey)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var turnID sql.NullString
		var createdStr string
		if err := rows.Scan(&e.ID, &e.SituationKey, &e.ActionKey, &e.Before, &e.After, &e.Outcome, &turnID, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if turnID.Valid {
			e.TurnID = turnID.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion history

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
