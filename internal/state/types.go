package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested weight or entry does not exist.
var ErrNotFound = errors.New("not found")

// #region weight-record
// WeightRecord is one persisted (situation, action) weight. UpdatedAt is the
// anchor decay is computed from.
type WeightRecord struct {
	SituationKey string    `json:"situation"`
	ActionKey    string    `json:"action"`
	Weight       float64   `json:"weight"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// #endregion weight-record

// #region weight-change
// WeightChange is a weight write together with what caused it.
type WeightChange struct {
	WeightRecord
	Before  float64
	Outcome string // "accepted" | "rejected"
	TurnID  string
}

// #endregion weight-change

// #region history-entry
// HistoryEntry is one row of the weight change log.
type HistoryEntry struct {
	ID           int64
	SituationKey string
	ActionKey    string
	Before       float64
	After        float64
	Outcome      string
	TurnID       string
	CreatedAt    time.Time
}

// #endregion history-entry

// #region weight-store
// WeightStore is a durable weight table. SaveWeight must be durable when it
// returns nil.
type WeightStore interface {
	LoadWeights(ctx context.Context) ([]WeightRecord, error)
	SaveWeight(ctx context.Context, ch WeightChange) error
	DeleteSituation(ctx context.Context, situationKey string) (int, error)
	Close() error
}

// #endregion weight-store
