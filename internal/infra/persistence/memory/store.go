// Package memory provides the embedded entity backend: an in-process,
// versioned record store that enforces the deal lifecycle and the built-in
// rules, used directly for tests and single-user tools and wrapped by the
// sqlite and postgres drivers for durability.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

var _ core.Backend = (*Store)(nil)

// CommitHook runs after a transaction's rules pass and before its state
// becomes visible. A hook error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Store is the embedded backend. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	state    state
	engine   *domain.RulesEngine
	now      func() time.Time
	hook     CommitHook
	readOnly bool
	requests map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCommitHook installs a hook that persists each committed snapshot.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithReadOnly rejects every mutation with a permission error.
func WithReadOnly() Option {
	return func(s *Store) { s.readOnly = true }
}

// NewStore constructs an empty backend evaluating engine before every commit.
// A nil engine disables rule evaluation.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	s := &Store{
		state:    newState(),
		engine:   engine,
		now:      func() time.Time { return time.Now().UTC() },
		requests: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the commit hook after construction.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot()
}

// ImportState replaces the current state with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

// RulesEngine returns the configured rules engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

type tx struct {
	state   state
	now     time.Time
	changes []domain.Change
}

func (t *tx) record(change domain.Change) {
	t.changes = append(t.changes, change)
}

func (t *tx) allocateID() domain.EntityID {
	id := t.state.nextID
	t.state.nextID++
	return id
}

func (t *tx) allocateStageID() domain.EntityID {
	id := t.state.nextStage
	t.state.nextStage++
	return id
}

// runInTransaction applies fn to a copy of the state, evaluates the rules over
// the recorded changes and commits when nothing blocks.
func (s *Store) runInTransaction(ctx context.Context, entity domain.EntityType, fn func(*tx) error) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "request cancelled", Err: err}
	}
	if s.readOnly {
		return domain.Result{}, &domain.APIError{Kind: domain.ErrPermission, Entity: entity, Message: "backend is read-only"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone(), now: s.now()}
	if err := fn(t); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, &t.state, t.changes)
		if err != nil {
			return domain.Result{}, fmt.Errorf("evaluate rules: %w", err)
		}
		result = res
		if res.HasBlocking() {
			return res, blockingError(res)
		}
	}
	if s.hook != nil {
		if err := s.hook(ctx, t.state.snapshot()); err != nil {
			return domain.Result{}, &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "persist state", Err: err}
		}
	}
	s.state = t.state
	return result, nil
}

func blockingError(res domain.Result) error {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			return res.BlockingError(v.Entity, v.EntityID)
		}
	}
	return errors.New("blocked by rules")
}

func (s *Store) view(ctx context.Context, entity domain.EntityType, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return &domain.APIError{Kind: domain.ErrTransport, Entity: entity, Message: "request cancelled", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// rememberRequest records the outcome of a bulk request id; replayed requests
// return the recorded count without reapplying.
func (s *Store) rememberRequest(requestID string, n int) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	s.requests[requestID] = n
	s.mu.Unlock()
}

func (s *Store) replayed(requestID string) (int, bool) {
	if requestID == "" {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.requests[requestID]
	return n, ok
}
