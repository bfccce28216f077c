package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS turn_log (
	turn_id     TEXT PRIMARY KEY,
	session_id  TEXT,
	utterance   TEXT NOT NULL,
	decision    TEXT NOT NULL,
	situation   TEXT,
	best_score  REAL NOT NULL,
	reason      TEXT,
	record_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_log (
	event_id      TEXT PRIMARY KEY,
	turn_id       TEXT,
	situation_key TEXT NOT NULL,
	action_key    TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	source        TEXT NOT NULL,
	before_weight REAL NOT NULL,
	after_weight  REAL NOT NULL,
	persisted     INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);
`

// Migrate creates the journal tables.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-turn
// LogTurn writes a turn entry to the turn_log table.
func LogTurn(db *sql.DB, entry TurnEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO turn_log (turn_id, session_id, utterance, decision, situation, best_score, reason, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TurnID,
		nullIfEmpty(entry.SessionID),
		entry.Utterance,
		entry.Decision,
		nullIfEmpty(entry.Situation),
		entry.BestScore,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.RecordJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log turn: %w", err)
	}
	return nil
}

// #endregion log-turn

// #region log-feedback
// LogFeedback writes a feedback entry to the feedback_log table.
func LogFeedback(db *sql.DB, entry FeedbackEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	persisted := 0
	if entry.Persisted {
		persisted = 1
	}

	_, err := db.Exec(
		`INSERT INTO feedback_log (event_id, turn_id, situation_key, action_key, outcome, source, before_weight, after_weight, persisted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EventID,
		nullIfEmpty(entry.TurnID),
		entry.SituationKey,
		entry.ActionKey,
		entry.Outcome,
		entry.Source,
		entry.Before,
		entry.After,
		persisted,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log feedback: %w", err)
	}
	return nil
}

// #endregion log-feedback

// #region recent
// RecentTurns returns the latest turns in reverse insertion order.
func RecentTurns(db *sql.DB, limit int) ([]TurnEntry, error) {
	rows, err := db.Query(
		`SELECT turn_id, session_id, utterance, decision, situation, best_score, reason, record_json, created_at
		 FROM turn_log ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var entries []TurnEntry
	for rows.Next() {
		var e TurnEntry
		var session, sit, reason, record sql.NullString
		var created string
		if err := rows.Scan(&e.TurnID, &session, &e.Utterance, &e.Decision, &sit, &e.BestScore, &reason, &record, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.SessionID, e.Situation, e.Reason, e.RecordJSON = session.String, sit.String, reason.String, record.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentFeedback returns the latest feedback events, newest first. An empty
// turnID lists all turns.
func RecentFeedback(db *sql.DB, turnID string, limit int) ([]FeedbackEntry, error) {
	query := `SELECT event_id, turn_id, situation_key, action_key, outcome, source, before_weight, after_weight, persisted, created_at
		FROM feedback_log`
	args := []any{}
	if turnID != "" {
		query += ` WHERE turn_id = ?`
		args = append(args, turnID)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent feedback: %w", err)
	}
	defer rows.Close()

	var entries []FeedbackEntry
	for rows.Next() {
		var e FeedbackEntry
		var turn sql.NullString
		var persisted int
		var created string
		if err := rows.Scan(&e.EventID, &turn, &e.SituationKey, &e.ActionKey, &e.Outcome, &e.Source, &e.Before, &e.After, &persisted, &created); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		e.TurnID = turn.String
		e.Persisted = persisted == 1
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
