package logging

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// one connection, one in-memory database
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// #endregion helpers

// #region log-turn-tests
func TestLogTurn_Success(t *testing.T) {
	db := setupDB(t)

	rec := TurnRecord{
		TurnID:     "turn-1",
		Utterance:  "internet sucks",
		Context:    TurnRecordContext{Battery: 80, Hour: 14},
		Candidates: []TurnRecordCandidate{{Key: "network_slow", Score: 1, Phrase: "internet sucks"}},
		Decision:   "confident",
		Situation:  "network_slow",
		Actions:    []string{"wifi.reconnect"},
	}
	recJSON, _ := json.Marshal(rec)

	entry := TurnEntry{
		TurnID:     "turn-1",
		SessionID:  "s1",
		Utterance:  "internet sucks",
		Decision:   "confident",
		Situation:  "network_slow",
		BestScore:  1,
		Reason:     "network_slow scored 1.0000 with no runner-up",
		RecordJSON: string(recJSON),
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogTurn(db, entry); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}

	turns, err := RecentTurns(db, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	got := turns[0]
	if got.Situation != "network_slow" || got.SessionID != "s1" || !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Fatalf("unexpected turn %+v", got)
	}

	var decoded TurnRecord
	if err := json.Unmarshal([]byte(got.RecordJSON), &decoded); err != nil {
		t.Fatalf("record json: %v", err)
	}
	if decoded.Candidates[0].Phrase != "internet sucks" {
		t.Fatalf("record lost candidate phrase: %+v", decoded)
	}
}

func TestLogTurn_NullableFields(t *testing.T) {
	db := setupDB(t)

	if err := LogTurn(db, TurnEntry{TurnID: "turn-2", Utterance: "hmm", Decision: "no_match"}); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}

	var situation, session sql.NullString
	var created string
	err := db.QueryRow(`SELECT situation, session_id, created_at FROM turn_log WHERE turn_id = ?`, "turn-2").
		Scan(&situation, &session, &created)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if situation.Valid || session.Valid {
		t.Fatal("empty strings should be stored as NULL")
	}
	if created == "" {
		t.Fatal("created_at should be auto-filled")
	}
}

func TestLogTurn_DuplicateID(t *testing.T) {
	db := setupDB(t)
	entry := TurnEntry{TurnID: "dup", Utterance: "x", Decision: "no_match"}
	if err := LogTurn(db, entry); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := LogTurn(db, entry); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestLogTurn_NoTable(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := LogTurn(db, TurnEntry{TurnID: "t", Utterance: "x", Decision: "no_match"}); err == nil {
		t.Fatal("expected error without schema")
	}
}

// #endregion log-turn-tests

// #region log-feedback-tests
func TestLogFeedback_FilterByTurn(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []FeedbackEntry{
		{EventID: "e1", TurnID: "t1", SituationKey: "sick", ActionKey: "web.search", Outcome: "rejected", Source: "user", Before: 1, After: 0.9, Persisted: true, CreatedAt: base},
		{EventID: "e2", TurnID: "t2", SituationKey: "network_slow", ActionKey: "wifi.reconnect", Outcome: "accepted", Source: "user", Before: 1, After: 1.1, Persisted: false, CreatedAt: base.Add(time.Second)},
		{EventID: "e3", TurnID: "t1", SituationKey: "sick", ActionKey: "system.brightness.down", Outcome: "neutral", Source: "execution", Before: 1, After: 1, Persisted: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := LogFeedback(db, e); err != nil {
			t.Fatalf("LogFeedback %s: %v", e.EventID, err)
		}
	}

	all, err := RecentFeedback(db, "", 10)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(all) != 3 || all[0].EventID != "e3" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[1].Persisted {
		t.Fatal("persisted flag should round-trip as false")
	}

	t1, err := RecentFeedback(db, "t1", 10)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(t1) != 2 {
		t.Fatalf("expected 2 events for t1, got %d", len(t1))
	}
	for _, e := range t1 {
		if e.TurnID != "t1" {
			t.Fatalf("unexpected turn %s", e.TurnID)
		}
	}
}

// #endregion log-feedback-tests

// #region logger-tests
func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Fatal("debug level should be enabled")
	}
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

// #endregion logger-tests
