package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"ladder_go/internal/domain"
)

// snapshotFile mirrors domain.EngineState with pointer fields so that a
// document missing either key can be told apart from a step-0 state.
type snapshotFile struct {
	OrderID *domain.StepID         `json:"order_id"`
	Orders  *[]domain.TrackedOrder `json:"orders"`
}

// FileStore keeps the engine snapshot in a single JSON file.
// Save replaces the file atomically so a crash mid-write leaves the
// previous snapshot intact.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (fs *FileStore) Path() string {
	return fs.path
}

// Save writes the snapshot to a temporary file, syncs it and renames it
// over the previous one.
func (fs *FileStore) Save(state *domain.EngineState) error {
	if state == nil {
		return fmt.Errorf("save snapshot: nil state")
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	orders := state.Orders
	if orders == nil {
		orders = []domain.TrackedOrder{}
	}
	data, err := json.MarshalIndent(domain.EngineState{CurrentStep: state.CurrentStep, Orders: orders}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := fs.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	slog.Debug("Snapshot saved",
		slog.Int("step", int(state.CurrentStep)),
		slog.Int("orders", len(state.Orders)),
		slog.String("path", fs.path))
	return nil
}

// Load reads the snapshot. A missing file yields domain.ErrNoState; a file
// that cannot be parsed, lacks a key or tracks an order without an exchange
// id yields a *domain.CorruptStateError.
func (fs *FileStore) Load() (*domain.EngineState, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNoState
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &domain.CorruptStateError{Path: fs.path, Err: err}
	}
	if file.OrderID == nil {
		return nil, &domain.CorruptStateError{Path: fs.path, Err: errors.New(`missing "order_id"`)}
	}
	if file.Orders == nil {
		return nil, &domain.CorruptStateError{Path: fs.path, Err: errors.New(`missing "orders"`)}
	}
	for i, t := range *file.Orders {
		if t.ExchangeOrder.ID == "" {
			return nil, &domain.CorruptStateError{Path: fs.path, Err: fmt.Errorf("orders[%d] has no exchange order id", i)}
		}
	}
	state := domain.EngineState{CurrentStep: *file.OrderID, Orders: *file.Orders}

	slog.Info("Snapshot loaded",
		slog.Int("step", int(state.CurrentStep)),
		slog.Int("orders", len(state.Orders)),
		slog.String("path", fs.path))
	return &state, nil
}
