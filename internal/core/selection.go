package core

import (
	"errors"
	"sync"

	"crmcore/pkg/domain"
)

var (
	// ErrEmptySelection is returned when an operation needs a non-empty selection.
	ErrEmptySelection = errors.New("selection is empty")
	// ErrSelectionTooLarge is returned when a selection exceeds the bulk limit.
	ErrSelectionTooLarge = errors.New("selection exceeds bulk limit")
	errBulkInProgress    = errors.New("bulk operation already in progress")
)

// SelectionCoordinator holds the selected ids of one entity type and the flag
// marking an outstanding bulk call.
type SelectionCoordinator struct {
	mu          sync.RWMutex
	selected    map[domain.EntityID]struct{}
	bulkLoading bool
}

// NewSelectionCoordinator constructs an empty selection.
func NewSelectionCoordinator() *SelectionCoordinator {
	return &SelectionCoordinator{selected: make(map[domain.EntityID]struct{})}
}

// Select adds id to the selection.
func (s *SelectionCoordinator) Select(id domain.EntityID) {
	s.mu.Lock()
	s.selected[id] = struct{}{}
	s.mu.Unlock()
}

// Deselect removes id from the selection.
func (s *SelectionCoordinator) Deselect(id domain.EntityID) {
	s.mu.Lock()
	delete(s.selected, id)
	s.mu.Unlock()
}

// Toggle flips the selection state of id and reports whether it is now selected.
func (s *SelectionCoordinator) Toggle(id domain.EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		return false
	}
	s.selected[id] = struct{}{}
	return true
}

// SelectAll unions ids into the selection; earlier selections are kept so
// pages can be selected one after another.
func (s *SelectionCoordinator) SelectAll(ids []domain.EntityID) {
	s.mu.Lock()
	for _, id := range ids {
		s.selected[id] = struct{}{}
	}
	s.mu.Unlock()
}

// DeselectAll empties the selection.
func (s *SelectionCoordinator) DeselectAll() {
	s.mu.Lock()
	clear(s.selected)
	s.mu.Unlock()
}

// Clear is an alias of DeselectAll.
func (s *SelectionCoordinator) Clear() { s.DeselectAll() }

// IsSelected reports whether id is selected.
func (s *SelectionCoordinator) IsSelected(id domain.EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}

// HasSelection reports whether at least one id is selected.
func (s *SelectionCoordinator) HasSelection() bool { return s.Count() > 0 }

// Count returns the number of selected ids.
func (s *SelectionCoordinator) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selected)
}

// Selected returns the selected ids in ascending order.
func (s *SelectionCoordinator) Selected() []domain.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// BulkLoading reports whether a bulk call is outstanding.
func (s *SelectionCoordinator) BulkLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bulkLoading
}

// CanBulk reports whether 0 < Count() <= maxSize and no bulk call is outstanding.
func (s *SelectionCoordinator) CanBulk(maxSize int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.selected)
	return n > 0 && n <= maxSize && !s.bulkLoading
}

// beginBulk atomically checks the bulk gate and, when open, raises the loading
// flag and returns the ids the bulk call should carry.
func (s *SelectionCoordinator) beginBulk(maxSize int) ([]domain.EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch n := len(s.selected); {
	case s.bulkLoading:
		return nil, errBulkInProgress
	case n == 0:
		return nil, ErrEmptySelection
	case n > maxSize:
		return nil, ErrSelectionTooLarge
	}
	s.bulkLoading = true
	return s.snapshotLocked(), nil
}

// finishBulk lowers the loading flag. On success the ids that took part in the
// bulk call leave the selection; ids selected while the call ran are kept.
func (s *SelectionCoordinator) finishBulk(ids []domain.EntityID, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkLoading = false
	if !success {
		return
	}
	for _, id := range ids {
		delete(s.selected, id)
	}
}

func (s *SelectionCoordinator) snapshotLocked() []domain.EntityID {
	out := make([]domain.EntityID, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
