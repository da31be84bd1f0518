package core

import (
	"sort"
	"sync"

	"crmcore/pkg/domain"
)

// MutationKind names the kind of in-flight operation tracked per id.
type MutationKind string

// Tracked mutation kinds. Create operations are tracked under id 0.
const (
	MutationCreate     MutationKind = "create"
	MutationUpdate     MutationKind = "update"
	MutationDelete     MutationKind = "delete"
	MutationTransition MutationKind = "transition"
)

type trackKey struct {
	kind MutationKind
	id   domain.EntityID
}

// MutationTracker records which ids have an operation in flight. Begin and End
// are reference counted; a flag clears when its count returns to zero.
type MutationTracker struct {
	mu     sync.RWMutex
	counts map[trackKey]int
	perID  map[domain.EntityID]int
}

// NewMutationTracker constructs an empty tracker.
func NewMutationTracker() *MutationTracker {
	return &MutationTracker{
		counts: make(map[trackKey]int),
		perID:  make(map[domain.EntityID]int),
	}
}

// Begin marks (kind, id) in flight.
func (t *MutationTracker) Begin(kind MutationKind, id domain.EntityID) {
	t.mu.Lock()
	t.begin(kind, id)
	t.mu.Unlock()
}

// TryBegin marks (kind, id) in flight only when no operation of any kind is
// already in flight for id. It reports whether the mark was taken.
func (t *MutationTracker) TryBegin(kind MutationKind, id domain.EntityID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.perID[id] > 0 {
		return false
	}
	t.begin(kind, id)
	return true
}

// TryBeginAll marks every id in flight for kind, or none of them when any id
// is already busy. It returns the first busy id found.
func (t *MutationTracker) TryBeginAll(kind MutationKind, ids []domain.EntityID) (domain.EntityID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if t.perID[id] > 0 {
			return id, false
		}
	}
	for _, id := range ids {
		t.begin(kind, id)
	}
	return 0, true
}

func (t *MutationTracker) begin(kind MutationKind, id domain.EntityID) {
	t.counts[trackKey{kind, id}]++
	t.perID[id]++
}

// End clears one Begin for (kind, id). Unmatched calls are ignored.
func (t *MutationTracker) End(kind MutationKind, id domain.EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackKey{kind, id}
	n := t.counts[key]
	if n == 0 {
		return
	}
	if n == 1 {
		delete(t.counts, key)
	} else {
		t.counts[key] = n - 1
	}
	if t.perID[id] <= 1 {
		delete(t.perID, id)
	} else {
		t.perID[id]--
	}
}

// InFlight reports whether (kind, id) is in flight.
func (t *MutationTracker) InFlight(kind MutationKind, id domain.EntityID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[trackKey{kind, id}] > 0
}

// Busy reports whether any kind is in flight for id.
func (t *MutationTracker) Busy(id domain.EntityID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perID[id] > 0
}

// Creating reports whether a create is in flight.
func (t *MutationTracker) Creating() bool { return t.InFlight(MutationCreate, 0) }

// Updating lists ids with an update in flight.
func (t *MutationTracker) Updating() []domain.EntityID { return t.ids(MutationUpdate) }

// Deleting lists ids with a delete in flight.
func (t *MutationTracker) Deleting() []domain.EntityID { return t.ids(MutationDelete) }

// Transitioning lists ids with a lifecycle transition in flight.
func (t *MutationTracker) Transitioning() []domain.EntityID { return t.ids(MutationTransition) }

func (t *MutationTracker) ids(kind MutationKind) []domain.EntityID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.EntityID
	for key := range t.counts {
		if key.kind == kind {
			out = append(out, key.id)
		}
	}
	sortIDs(out)
	return out
}

// MutationState is a point-in-time copy of the tracker.
type MutationState struct {
	Creating      bool              `json:"creating"`
	Updating      []domain.EntityID `json:"updating"`
	Deleting      []domain.EntityID `json:"deleting"`
	Transitioning []domain.EntityID `json:"transitioning"`
}

// Snapshot returns the current mutation state.
func (t *MutationTracker) Snapshot() MutationState {
	return MutationState{
		Creating:      t.Creating(),
		Updating:      t.Updating(),
		Deleting:      t.Deleting(),
		Transitioning: t.Transitioning(),
	}
}

func sortIDs(ids []domain.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
