package us

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type symbolStatus string

const (
	statusDone  symbolStatus = "done"
	statusEmpty symbolStatus = "empty"
)

// checkpointState is the on-disk form of a backfill's progress.
type checkpointState struct {
	EndDate   string                  `json:"end_date"`
	Completed bool                    `json:"completed"`
	Symbols   map[string]symbolStatus `json:"symbols"`
}

// checkpoint records which symbols a backfill has handled for one end date,
// so an interrupted run can resume. Progress for a different end date is
// discarded. A checkpoint with no path only lives in memory.
type checkpoint struct {
	mu    sync.Mutex
	path  string
	state checkpointState
}

func loadCheckpoint(path, endDate string) (*checkpoint, error) {
	cp := &checkpoint{
		path:  path,
		state: checkpointState{EndDate: endDate, Symbols: make(map[string]symbolStatus)},
	}
	if path == "" {
		return cp, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, err
	}
	var saved checkpointState
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if saved.EndDate == endDate && saved.Symbols != nil {
		cp.state = saved
	}
	return cp, nil
}

// Seen reports whether symbol was already fetched or found empty.
func (c *checkpoint) Seen(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state.Symbols[symbol]
	return ok
}

// Status returns the recorded status of symbol.
func (c *checkpoint) Status(symbol string) (symbolStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state.Symbols[symbol]
	return st, ok
}

// Completed reports whether the whole backfill finished.
func (c *checkpoint) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Completed
}

// Mark records symbols with status and persists the checkpoint.
func (c *checkpoint) Mark(symbols []string, status symbolStatus) error {
	if len(symbols) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		c.state.Symbols[sym] = status
	}
	return c.save()
}

// Complete marks the backfill finished and persists the checkpoint.
func (c *checkpoint) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Completed = true
	return c.save()
}

// save writes the state atomically. Callers hold mu.
func (c *checkpoint) save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return os.Rename(tmp, c.path)
}
