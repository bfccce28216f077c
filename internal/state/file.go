package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// #region file-format
const fileFormatVersion = 1

type fileEntry struct {
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileTable is the on-disk layout: situation → action → entry.
type fileTable struct {
	Version int                             `json:"version"`
	Weights map[string]map[string]fileEntry `json:"weights"`
}

// #endregion file-format

// #region file-store
// FileStore keeps the weight table in one JSON file. Every write replaces
// the whole file via temp file + fsync + rename, so a crash leaves either
// the old or the new table on disk.
type FileStore struct {
	path string

	mu    sync.Mutex
	table fileTable
}

// NewFileStore opens (or lazily creates) the weight file at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, table: fileTable{Version: fileFormatVersion, Weights: map[string]map[string]fileEntry{}}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read weights %s: %w", path, err)
	}
	if len(data) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(data, &fs.table); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", path, err)
	}
	if fs.table.Weights == nil {
		fs.table.Weights = map[string]map[string]fileEntry{}
	}
	return fs, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// #endregion file-store

// #region file-load
// LoadWeights returns the cached table, sorted by key.
func (f *FileStore) LoadWeights(context.Context) ([]WeightRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []WeightRecord
	for sit, actions := range f.table.Weights {
		for act, e := range actions {
			records = append(records, WeightRecord{SituationKey: sit, ActionKey: act, Weight: e.Weight, UpdatedAt: e.UpdatedAt})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SituationKey != records[j].SituationKey {
			return records[i].SituationKey < records[j].SituationKey
		}
		return records[i].ActionKey < records[j].ActionKey
	})
	return records, nil
}

// #endregion file-load

// #region file-save
// SaveWeight writes the updated table. On failure the cached table is left
// as it was before the call.
func (f *FileStore) SaveWeight(ctx context.Context, ch WeightChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	actions := f.table.Weights[ch.SituationKey]
	prev, hadPrev := actions[ch.ActionKey]
	if actions == nil {
		actions = map[string]fileEntry{}
		f.table.Weights[ch.SituationKey] = actions
	}
	actions[ch.ActionKey] = fileEntry{Weight: ch.Weight, UpdatedAt: ch.UpdatedAt.UTC()}

	if err := f.flush(); err != nil {
		if hadPrev {
			actions[ch.ActionKey] = prev
		} else {
			delete(actions, ch.ActionKey)
			if len(actions) == 0 {
				delete(f.table.Weights, ch.SituationKey)
			}
		}
		return err
	}
	return nil
}

// DeleteSituation drops a situation's weights and rewrites the file.
func (f *FileStore) DeleteSituation(ctx context.Context, situationKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	actions, ok := f.table.Weights[situationKey]
	if !ok {
		return 0, nil
	}
	delete(f.table.Weights, situationKey)
	if err := f.flush(); err != nil {
		f.table.Weights[situationKey] = actions
		return 0, err
	}
	return len(actions), nil
}

// Close is a no-op; every write is already durable.
func (f *FileStore) Close() error {
	return nil
}

// #endregion file-save

// #region atomic-write
// flush writes the table atomically (temp + fsync + rename). Caller holds mu.
func (f *FileStore) flush() error {
	data, err := json.MarshalIndent(f.table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create weights tmp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write weights tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync weights tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close weights tmp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename weights: %w", err)
	}
	return nil
}

// #endregion atomic-write
