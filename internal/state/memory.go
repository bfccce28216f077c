package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a non-durable WeightStore for tests and dry runs. FailWith,
// when set, is returned by every SaveWeight.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[[2]string]WeightRecord
	changes  []WeightChange
	FailWith error
}

// NewMemoryStore creates a MemoryStore seeded with records.
func NewMemoryStore(records ...WeightRecord) *MemoryStore {
	m := &MemoryStore{records: map[[2]string]WeightRecord{}}
	for _, r := range records {
		m.records[[2]string{r.SituationKey, r.ActionKey}] = r
	}
	return m
}

func (m *MemoryStore) LoadWeights(context.Context) ([]WeightRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WeightRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SituationKey != out[j].SituationKey {
			return out[i].SituationKey < out[j].SituationKey
		}
		return out[i].ActionKey < out[j].ActionKey
	})
	return out, nil
}

func (m *MemoryStore) SaveWeight(_ context.Context, ch WeightChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.records[[2]string{ch.SituationKey, ch.ActionKey}] = ch.WeightRecord
	m.changes = append(m.changes, ch)
	return nil
}

func (m *MemoryStore) DeleteSituation(_ context.Context, situationKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.records {
		if k[0] == situationKey {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

// Changes returns every successful write, oldest first.
func (m *MemoryStore) Changes() []WeightChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WeightChange(nil), m.changes...)
}
