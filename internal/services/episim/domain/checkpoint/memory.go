package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Memory stores checkpoints in memory.
type Memory struct {
	mu          sync.Mutex
	checkpoints map[string]Checkpoint
}

// NewMemory creates a new in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{checkpoints: make(map[string]Checkpoint)}
}

// Get retrieves the latest checkpoint of a run.
func (m *Memory) Get(ctx context.Context, runID string) (Checkpoint, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Checkpoint{}, err
		}
	}
	if m == nil {
		return Checkpoint{}, errors.New("checkpoint store is required")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Checkpoint{}, ErrRunIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[runID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return c.Clone(), nil
}

// Save replaces the checkpoint of the run.
func (m *Memory) Save(ctx context.Context, c Checkpoint) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return errors.New("checkpoint store is required")
	}
	runID := strings.TrimSpace(c.RunID)
	if runID == "" {
		return ErrRunIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c = c.Clone()
	c.RunID = runID
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	m.checkpoints[runID] = c
	return nil
}
