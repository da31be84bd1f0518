package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"crmcore/pkg/domain"
)

var (
	// ErrBusy is returned when a mutation targets an id that already has an
	// operation in flight.
	ErrBusy = errors.New("a mutation is already in flight for this record")
	// ErrClosed is returned by stores that have been shut down.
	ErrClosed = errors.New("store is closed")
)

// operation describes one mutation entry point for logging, metrics and messages.
type operation struct {
	kind   MutationKind
	name   string // metrics/trace name, e.g. "update_deal"
	action string // infinitive used in failure messages
	done   string // past participle used in success messages
}

func newOperation(entity domain.EntityType, kind MutationKind, action, done string) operation {
	return operation{
		kind:   kind,
		name:   fmt.Sprintf("%s_%s", action, entity),
		action: action,
		done:   done,
	}
}

// EntityStore coordinates mutations, in-flight tracking, selection and cache
// reconciliation for one entity type.
type EntityStore[T domain.Record] struct {
	entity    domain.EntityType
	api       EntityAPI[T]
	cache     Cache
	notifier  Notifier
	tracker   *MutationTracker
	selection *SelectionCoordinator
	cfg       storeConfig
	closed    atomic.Bool
}

// NewEntityStore constructs a store for entity backed by api. A nil cache or
// notifier is replaced with a no-op implementation.
func NewEntityStore[T domain.Record](entity domain.EntityType, api EntityAPI[T], cache Cache, notifier Notifier, opts ...Option) *EntityStore[T] {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cache == nil {
		cache = noopCache{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &EntityStore[T]{
		entity:    entity,
		api:       api,
		cache:     cache,
		notifier:  notifier,
		tracker:   NewMutationTracker(),
		selection: NewSelectionCoordinator(),
		cfg:       cfg,
	}
}

// Entity returns the managed entity type.
func (s *EntityStore[T]) Entity() domain.EntityType { return s.entity }

// Tracker exposes the in-flight tracker for UI polling.
func (s *EntityStore[T]) Tracker() *MutationTracker { return s.tracker }

// Selection exposes the selection coordinator.
func (s *EntityStore[T]) Selection() *SelectionCoordinator { return s.selection }

// MaxBulkSize returns the configured bulk limit.
func (s *EntityStore[T]) MaxBulkSize() int { return s.cfg.maxBulkSize }

// CanBulk reports whether a bulk call may be issued for the current selection.
func (s *EntityStore[T]) CanBulk() bool { return s.selection.CanBulk(s.cfg.maxBulkSize) }

// State is a point-in-time view of a store for rendering.
type State struct {
	Entity      domain.EntityType `json:"entity"`
	Mutations   MutationState     `json:"mutations"`
	Selected    []domain.EntityID `json:"selected"`
	BulkLoading bool              `json:"bulk_loading"`
}

// State returns the store's current mutation and selection state.
func (s *EntityStore[T]) State() State {
	return State{
		Entity:      s.entity,
		Mutations:   s.tracker.Snapshot(),
		Selected:    s.selection.Selected(),
		BulkLoading: s.selection.BulkLoading(),
	}
}

// Close shuts the store down. Later mutations fail with ErrClosed; calls
// already in flight run to completion.
func (s *EntityStore[T]) Close() {
	s.closed.Store(true)
}

// Create submits a new record. Failures are notified but never returned: the
// boolean reports success and then runs only on success.
func (s *EntityStore[T]) Create(ctx context.Context, record T, then func(T)) (T, bool) {
	op := newOperation(s.entity, MutationCreate, "create", "created")
	created, err := s.mutate(ctx, op, 0, func(ctx context.Context) (T, error) {
		return s.api.Create(ctx, record)
	})
	if err != nil {
		var zero T
		return zero, false
	}
	if then != nil {
		then(created)
	}
	return created, true
}

// Update replaces the record with id. record must carry the version last read;
// failures are notified and returned.
func (s *EntityStore[T]) Update(ctx context.Context, id domain.EntityID, record T, then func(T)) (T, error) {
	op := newOperation(s.entity, MutationUpdate, "update", "updated")
	if err := s.checkUpdate(id, record); err != nil {
		s.notifier.Error(failureMessage(s.entity, op.action, err))
		var zero T
		return zero, err
	}
	updated, err := s.mutate(ctx, op, id, func(ctx context.Context) (T, error) {
		return s.api.Update(ctx, id, record)
	})
	if err != nil {
		return updated, err
	}
	if then != nil {
		then(updated)
	}
	return updated, nil
}

func (s *EntityStore[T]) checkUpdate(id domain.EntityID, record T) error {
	if id == 0 {
		return domain.NewValidationError(s.entity, "an id is required")
	}
	if record.LockVersion() <= 0 {
		return domain.NewValidationError(s.entity, "the current version is required")
	}
	if rid := record.Identity(); rid != 0 && rid != id {
		return domain.NewValidationError(s.entity, "record id %d does not match %d", rid, id)
	}
	return nil
}

// Delete removes the record with id. Failures are notified and returned.
func (s *EntityStore[T]) Delete(ctx context.Context, id domain.EntityID, then func()) error {
	op := newOperation(s.entity, MutationDelete, "delete", "deleted")
	if id == 0 {
		err := domain.NewValidationError(s.entity, "an id is required")
		s.notifier.Error(failureMessage(s.entity, op.action, err))
		return err
	}
	_, err := s.mutate(ctx, op, id, func(ctx context.Context) (T, error) {
		var zero T
		return zero, s.api.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.selection.Deselect(id)
	if then != nil {
		then()
	}
	return nil
}

// mutate runs the shared protocol: mark in flight, call, reconcile the cache
// and notify. The in-flight mark is cleared before mutate returns, whatever
// the outcome.
func (s *EntityStore[T]) mutate(ctx context.Context, op operation, id domain.EntityID, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.closed.Load() {
		s.notifier.Error(failureMessage(s.entity, op.action, ErrClosed))
		return zero, ErrClosed
	}
	if op.kind == MutationCreate {
		s.tracker.Begin(op.kind, id)
	} else if !s.tracker.TryBegin(op.kind, id) {
		err := fmt.Errorf("%s %d: %w", s.entity, id, ErrBusy)
		s.cfg.logger.Debug("mutation rejected, record busy", "entity", s.entity, "id", id, "operation", op.name)
		s.notifier.Error(failureMessage(s.entity, op.action, err))
		return zero, err
	}
	defer s.tracker.End(op.kind, id)

	var result T
	err := s.cfg.observe(ctx, op.name, func(ctx context.Context) error {
		var err error
		result, err = call(ctx)
		return err
	})
	if err != nil {
		if id != 0 && s.ownsNotFound(err) {
			s.selection.Deselect(id)
		}
		s.notifier.Error(failureMessage(s.entity, op.action, err))
		return zero, err
	}
	s.reconcile(ctx)
	s.notifier.Success(successMessage(s.entity, op.done))
	return result, nil
}

// ownsNotFound reports whether err says a record of this store's type is gone.
func (s *EntityStore[T]) ownsNotFound(err error) bool {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != domain.ErrNotFound {
		return false
	}
	return apiErr.Entity == "" || apiErr.Entity == s.entity
}

// BulkUpdate applies update to every selected record in one call. Empty
// selections are a no-op. It returns the affected count and whether the call
// succeeded; failures are notified, never returned.
func (s *EntityStore[T]) BulkUpdate(ctx context.Context, update domain.BulkUpdate[T]) (int, bool) {
	op := newOperation(s.entity, MutationUpdate, "update", "updated")
	op.name = fmt.Sprintf("bulk_update_%s", s.entity)
	if update == nil {
		s.notifier.Error(failureMessage(s.entity, op.action, domain.NewValidationError(s.entity, "a bulk operation is required")))
		return 0, false
	}
	return s.bulk(ctx, op, func(ctx context.Context, requestID string, ids []domain.EntityID) (int, error) {
		return s.api.BulkUpdate(ctx, requestID, ids, update)
	})
}

// BulkDelete deletes every selected record in one call.
func (s *EntityStore[T]) BulkDelete(ctx context.Context) (int, bool) {
	op := newOperation(s.entity, MutationDelete, "delete", "deleted")
	op.name = fmt.Sprintf("bulk_delete_%s", s.entity)
	return s.bulk(ctx, op, func(ctx context.Context, requestID string, ids []domain.EntityID) (int, error) {
		return s.api.BulkDelete(ctx, requestID, ids)
	})
}

func (s *EntityStore[T]) bulk(ctx context.Context, op operation, call func(context.Context, string, []domain.EntityID) (int, error)) (int, bool) {
	if s.closed.Load() {
		s.notifier.Error(failureMessage(s.entity, op.action, ErrClosed))
		return 0, false
	}
	ids, err := s.selection.beginBulk(s.cfg.maxBulkSize)
	switch {
	case errors.Is(err, ErrEmptySelection), errors.Is(err, errBulkInProgress):
		s.cfg.logger.Debug("bulk operation skipped", "operation", op.name, "reason", err)
		return 0, false
	case errors.Is(err, ErrSelectionTooLarge):
		n := s.selection.Count()
		s.notifier.Error(bulkFailureMessage(s.entity, op.action, n,
			fmt.Errorf("at most %d can be changed at once", s.cfg.maxBulkSize)))
		return 0, false
	}

	if busy, ok := s.tracker.TryBeginAll(op.kind, ids); !ok {
		s.selection.finishBulk(ids, false)
		err := fmt.Errorf("%s %d: %w", s.entity, busy, ErrBusy)
		s.cfg.logger.Debug("bulk operation rejected, record busy", "operation", op.name, "id", busy)
		s.notifier.Error(bulkFailureMessage(s.entity, op.action, len(ids), err))
		return 0, false
	}
	defer func() {
		for _, id := range ids {
			s.tracker.End(op.kind, id)
		}
	}()

	requestID := uuid.NewString()
	var affected int
	err = s.cfg.observe(ctx, op.name, func(ctx context.Context) error {
		var err error
		affected, err = call(ctx, requestID, ids)
		return err
	})
	if err != nil {
		s.selection.finishBulk(ids, false)
		s.cfg.logger.Error("bulk operation failed", "operation", op.name, "request_id", requestID, "ids", len(ids), "error", err)
		s.notifier.Error(bulkFailureMessage(s.entity, op.action, len(ids), err))
		return 0, false
	}
	s.reconcile(ctx)
	s.selection.finishBulk(ids, true)
	s.cfg.logger.Info("bulk operation completed", "operation", op.name, "request_id", requestID, "affected", affected)
	s.notifier.Success(bulkSuccessMessage(s.entity, op.done, affected))
	return affected, true
}

// namespaces lists the cache namespaces reconciled after a mutation.
func (s *EntityStore[T]) namespaces() []string {
	out := make([]string, 0, 1+len(s.cfg.dependents))
	out = append(out, s.entity.Namespace())
	for _, ns := range s.cfg.dependents {
		if ns != s.entity.Namespace() {
			out = append(out, ns)
		}
	}
	return out
}

// reconcile invalidates and refetches every affected namespace.
func (s *EntityStore[T]) reconcile(ctx context.Context) {
	namespaces := s.namespaces()
	for _, ns := range namespaces {
		s.cache.Invalidate(ns)
	}
	for _, ns := range namespaces {
		s.cache.RefetchActive(ctx, ns)
	}
}

func (s *EntityStore[T]) detailQuery(id domain.EntityID) (QueryKey, func(context.Context) (any, error)) {
	key := QueryKey{Namespace: s.entity.Namespace(), Kind: QueryDetail, Fingerprint: id.String()}
	return key, func(ctx context.Context) (any, error) { return s.api.Get(ctx, id) }
}

func (s *EntityStore[T]) listQuery(criteria domain.SearchCriteria, page domain.Page) (QueryKey, func(context.Context) (any, error)) {
	key := QueryKey{
		Namespace:   s.entity.Namespace(),
		Kind:        QueryList,
		Fingerprint: fmt.Sprintf("%s/%d", criteria.Fingerprint(), page.Size),
		Page:        page.Number,
	}
	return key, func(ctx context.Context) (any, error) { return s.api.List(ctx, criteria, page) }
}

// Get reads one record, through the query cache when one is configured.
func (s *EntityStore[T]) Get(ctx context.Context, id domain.EntityID) (T, error) {
	qc, ok := s.cache.(QueryCache)
	if !ok {
		return s.api.Get(ctx, id)
	}
	key, load := s.detailQuery(id)
	v, err := qc.Fetch(ctx, key, load)
	if err != nil {
		var zero T
		return zero, err
	}
	return castResult[T](v)
}

// List reads one page of records matching criteria, through the query cache
// when one is configured.
func (s *EntityStore[T]) List(ctx context.Context, criteria domain.SearchCriteria, page domain.Page) (domain.ListResult[T], error) {
	page = page.Normalize()
	qc, ok := s.cache.(QueryCache)
	if !ok {
		return s.api.List(ctx, criteria, page)
	}
	key, load := s.listQuery(criteria, page)
	v, err := qc.Fetch(ctx, key, load)
	if err != nil {
		return domain.ListResult[T]{}, err
	}
	return castResult[domain.ListResult[T]](v)
}

// WatchGet mounts the detail query for id, so reconciliation after a mutation
// re-runs it. Call the returned function to unmount. Without a query cache
// there is nothing to mount and the function is a no-op.
func (s *EntityStore[T]) WatchGet(id domain.EntityID) func() {
	qc, ok := s.cache.(QueryCache)
	if !ok {
		return func() {}
	}
	return qc.Watch(s.detailQuery(id))
}

// WatchList mounts the list query for criteria and page.
func (s *EntityStore[T]) WatchList(criteria domain.SearchCriteria, page domain.Page) func() {
	qc, ok := s.cache.(QueryCache)
	if !ok {
		return func() {}
	}
	return qc.Watch(s.listQuery(criteria, page.Normalize()))
}

func castResult[R any](v any) (R, error) {
	out, ok := v.(R)
	if !ok {
		var zero R
		return zero, fmt.Errorf("cache returned %T, want %T", v, zero)
	}
	return out, nil
}
