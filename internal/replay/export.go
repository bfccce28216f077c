package replay

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/logging"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
)

// ErrEmptyJournal is returned when there is no turn to export.
var ErrEmptyJournal = errors.New("journal has no turns")

// #region corpus-json

// corpusEntry is the document shape situation.Parse reads.
type corpusEntry struct {
	Phrases     []string           `json:"phrases"`
	Actions     []situation.Action `json:"actions"`
	Weight      float64            `json:"weight"`
	Domain      string             `json:"domain,omitempty"`
	Description string             `json:"description,omitempty"`
}

// CorpusJSON encodes a corpus as an ordered JSON object so ties resolve the
// same way after a round trip.
func CorpusJSON(c *situation.Corpus) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.Keys() {
		s, _ := c.Get(key)
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(corpusEntry{
			Phrases:     s.Phrases,
			Actions:     s.Actions,
			Weight:      s.Weight,
			Domain:      s.Domain,
			Description: s.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("encode situation %s: %w", key, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// #endregion corpus-json

// #region from-journal

// FromJournal builds a fixture from one session's journaled turns and their
// feedback events, both newest first as the journal returns them. Expected
// results are what the engine decided at the time, so replaying the fixture
// reports drift. Start weights are taken from the earliest recorded
// before-value of each pair that received feedback; other pairs start at 1.0.
func FromJournal(corpus *situation.Corpus, emb FixtureEmbedder, sessionID string, turns []logging.TurnEntry, events []logging.FeedbackEntry) (*Fixture, error) {
	corpusDoc, err := CorpusJSON(corpus)
	if err != nil {
		return nil, err
	}
	f := &Fixture{
		Description: fmt.Sprintf("journal export of session %s", sessionID),
		Corpus:      corpusDoc,
		Embedder:    emb,
	}

	selected := make([]logging.TurnEntry, 0, len(turns))
	for _, t := range turns {
		if t.SessionID == sessionID {
			selected = append(selected, t)
		}
	}
	slices.Reverse(selected)

	userFeedback := make(map[string]string)
	start := make(map[[2]string]FixtureWeight)
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Source == "user" {
			userFeedback[ev.TurnID] = ev.Outcome
		}
		pair := [2]string{ev.SituationKey, ev.ActionKey}
		if _, seen := start[pair]; !seen {
			start[pair] = FixtureWeight{Situation: ev.SituationKey, Action: ev.ActionKey, Weight: ev.Before}
		}
	}

	awaiting := false
	for _, t := range selected {
		var rec logging.TurnRecord
		if err := json.Unmarshal([]byte(t.RecordJSON), &rec); err != nil {
			return nil, fmt.Errorf("turn %s: parse record: %w", t.TurnID, err)
		}

		ft := FixtureTurn{
			TurnID:   t.TurnID,
			Input:    t.Utterance,
			Context:  contextFromRecord(rec.Context),
			Feedback: userFeedback[t.TurnID],
		}
		exp := FixtureExpectedResult{TurnID: t.TurnID, Situation: t.Situation}
		for _, r := range rec.Results {
			exp.Actions = append(exp.Actions, r.Action)
			if !r.Success {
				ft.Failures = append(ft.Failures, r.Action)
			}
		}

		switch t.Decision {
		case "confident", "selected":
			exp.Kind = string(session.TurnExecuted)
			if len(rec.Results) == 0 {
				exp.Kind = string(session.TurnAcknowledged)
				exp.Actions = []string{}
			}
			awaiting = false
		case "ambiguous":
			exp.Kind = string(session.TurnClarify)
			if awaiting {
				exp.Kind = string(session.TurnFallback)
			}
			exp.Situation = ""
			for _, c := range rec.Candidates {
				exp.Candidates = append(exp.Candidates, c.Key)
			}
			awaiting = !awaiting
		default:
			exp.Kind = string(session.TurnFallback)
			exp.Situation = ""
			awaiting = false
		}
		if exp.Kind != string(session.TurnExecuted) {
			ft.Feedback = ""
		}

		f.Turns = append(f.Turns, ft)
		f.ExpectedResults = append(f.ExpectedResults, exp)
	}

	for _, ev := range events {
		pair := [2]string{ev.SituationKey, ev.ActionKey}
		if w, ok := start[pair]; ok {
			f.StartWeights = append(f.StartWeights, w)
			delete(start, pair)
		}
	}
	return f, nil
}

func contextFromRecord(c logging.TurnRecordContext) FixtureContext {
	fc := FixtureContext{Hour: c.Hour, Connectivity: c.Connectivity}
	if c.Battery != signals.BatteryUnknown {
		b := c.Battery
		fc.Battery = &b
	}
	return fc
}

// #endregion from-journal

// #region export-session

// ExportSession reads the newest limit journal rows and builds a fixture for
// sessionID, or for the session of the newest turn when sessionID is empty.
func ExportSession(db *sql.DB, corpus *situation.Corpus, emb FixtureEmbedder, sessionID string, limit int) (*Fixture, error) {
	turns, err := logging.RecentTurns(db, limit)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrEmptyJournal
	}
	if sessionID == "" {
		sessionID = turns[0].SessionID
	}
	events, err := logging.RecentFeedback(db, "", limit*4)
	if err != nil {
		return nil, err
	}
	f, err := FromJournal(corpus, emb, sessionID, turns, events)
	if err != nil {
		return nil, err
	}
	if len(f.Turns) == 0 {
		return nil, fmt.Errorf("%w for session %s", ErrEmptyJournal, sessionID)
	}
	return f, nil
}

// Materialize swaps the fixture's embedder for a table holding emb's vectors
// for every corpus phrase and turn input, so the fixture replays without the
// live provider. A phrase that fails to embed is an error.
func (f *Fixture) Materialize(ctx context.Context, emb embedding.Embedder) error {
	corpus, err := f.ToCorpus()
	if err != nil {
		return err
	}
	table := make(map[string][]float32)
	for i := 0; i < corpus.Len(); i++ {
		for _, phrase := range corpus.At(i).Phrases {
			if _, ok := table[phrase]; ok {
				continue
			}
			vec, err := emb.Embed(ctx, phrase)
			if err != nil {
				return fmt.Errorf("embed %q: %w", phrase, err)
			}
			table[phrase] = vec
		}
	}
	// inputs the provider rejects stay out; replay then reports the same
	// detection error the live turn hit
	for _, t := range f.Turns {
		if _, ok := table[t.Input]; ok {
			continue
		}
		if vec, err := emb.Embed(ctx, t.Input); err == nil {
			table[t.Input] = vec
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	f.Embedder = FixtureEmbedder{Kind: "table", Embeddings: table}
	return nil
}

// #endregion export-session
