// Package selection tracks which spreadsheet is the active patient
// container, in memory and in a durable local-state store.
package selection

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// SelectedKey is the local-state key holding the selected container id.
const SelectedKey = "selectedSheetId"

// Store is a small durable key/value store for local state.
type Store interface {
	// Get reports ok=false when key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Selector holds the selected container id. Writes go to memory and the
// store together; reads fall back to the store and repopulate memory.
type Selector struct {
	store  Store
	logger *logging.Logger

	mu       sync.RWMutex
	selected string
}

// NewSelector creates a Selector backed by store.
func NewSelector(store Store) *Selector {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Selector{store: store, logger: logging.Default().Component("selection")}
}

// WithLogger sets the logger and returns s.
func (s *Selector) WithLogger(logger *logging.Logger) *Selector {
	if logger != nil {
		s.logger = logger.Component("selection")
	}
	return s
}

// Set records id as the selected container. An empty id clears the selection.
func (s *Selector) Set(ctx context.Context, id string) error {
	if id == "" {
		return s.Clear(ctx)
	}
	if err := s.store.Set(ctx, SelectedKey, id); err != nil {
		return fmt.Errorf("selection: persist %s: %w", SelectedKey, err)
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	s.logger.Info("spreadsheet selected", "spreadsheet_id", id)
	return nil
}

// Get returns the selected id, or "" when nothing is selected.
func (s *Selector) Get(ctx context.Context) (string, error) {
	s.mu.RLock()
	id := s.selected
	s.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	stored, ok, err := s.store.Get(ctx, SelectedKey)
	if err != nil {
		return "", fmt.Errorf("selection: load %s: %w", SelectedKey, err)
	}
	if !ok || stored == "" {
		return "", nil
	}
	s.mu.Lock()
	if s.selected == "" {
		s.selected = stored
	}
	id = s.selected
	s.mu.Unlock()
	return id, nil
}

// Clear removes the selection from memory and the store.
func (s *Selector) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, SelectedKey); err != nil {
		return fmt.Errorf("selection: clear %s: %w", SelectedKey, err)
	}
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	return nil
}

// IsSelected reports whether a container is selected. Store errors count as
// not selected.
func (s *Selector) IsSelected(ctx context.Context) bool {
	id, err := s.Get(ctx)
	if err != nil {
		s.logger.Warn("failed to read selection", "error", err)
		return false
	}
	return id != ""
}
