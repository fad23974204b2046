package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rfqScope/internal/model"
)

// CheckpointStore persists sync states to a JSON file keyed by name.
type CheckpointStore struct {
	path string
	mu   sync.Mutex
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

func (c *CheckpointStore) LoadSyncState(_ context.Context, name string) (model.SyncState, bool, error) {
	if name == "" {
		return model.SyncState{}, false, fmt.Errorf("state name required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	states, err := c.load()
	if err != nil {
		return model.SyncState{}, false, err
	}
	state, ok := states[name]
	return state, ok, nil
}

func (c *CheckpointStore) SaveSyncState(_ context.Context, state model.SyncState) error {
	if state.Name == "" {
		return fmt.Errorf("state name required")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	states, err := c.load()
	if err != nil {
		return err
	}
	states[state.Name] = state

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (c *CheckpointStore) load() (map[string]model.SyncState, error) {
	states := make(map[string]model.SyncState)

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return states, nil
}
