package memory

import (
	"context"
	"errors"
	"sort"

	"crmcore/internal/core"
	"crmcore/pkg/domain"
)

// recordPtr lets the generic table stamp ids, versions and timestamps.
type recordPtr[T any] interface {
	*T
	Meta() *domain.Base
}

// table implements core.EntityAPI[T] for one record map of the store.
type table[T domain.Record, P recordPtr[T]] struct {
	store  *Store
	entity domain.EntityType
	rows   func(*state) map[domain.EntityID]T
	clone  func(T) T
	// prepare validates and normalizes rec inside the transaction; before is
	// nil on create.
	prepare func(t *tx, rec *T, before *T) error
}

var _ core.EntityAPI[domain.Contact] = table[domain.Contact, *domain.Contact]{}

func meta[T any, P recordPtr[T]](rec *T) *domain.Base { return P(rec).Meta() }

func (a table[T, P]) Create(ctx context.Context, record T) (T, error) {
	var created T
	_, err := a.store.runInTransaction(ctx, a.entity, func(t *tx) error {
		rec := a.clone(record)
		m := meta[T, P](&rec)
		if m.ID != 0 {
			return domain.NewValidationError(a.entity, "id is assigned by the backend")
		}
		if err := a.prepare(t, &rec, nil); err != nil {
			return err
		}
		m.ID = t.allocateID()
		m.Version = 1
		m.CreatedAt, m.UpdatedAt = t.now, t.now
		a.rows(&t.state)[m.ID] = rec
		change, err := domain.NewChange(a.entity, domain.ActionCreate, m.ID, nil, &rec)
		if err != nil {
			return err
		}
		t.record(change)
		created = a.clone(rec)
		return nil
	})
	return created, err
}

func (a table[T, P]) Update(ctx context.Context, id domain.EntityID, record T) (T, error) {
	var updated T
	_, err := a.store.runInTransaction(ctx, a.entity, func(t *tx) error {
		rows := a.rows(&t.state)
		before, ok := rows[id]
		if !ok {
			return domain.NewNotFoundError(a.entity, id)
		}
		if record.LockVersion() != before.LockVersion() {
			return domain.NewConflictError(a.entity, id, record.LockVersion(), before.LockVersion())
		}
		rec := a.clone(record)
		if err := a.stamp(t, id, &rec, &before); err != nil {
			return err
		}
		rows[id] = rec
		change, err := domain.NewChange(a.entity, domain.ActionUpdate, id, &before, &rec)
		if err != nil {
			return err
		}
		t.record(change)
		updated = a.clone(rec)
		return nil
	})
	return updated, err
}

// stamp bumps the version of rec, carries over identity and creation time
// from before and runs prepare.
func (a table[T, P]) stamp(t *tx, id domain.EntityID, rec *T, before *T) error {
	m, prev := meta[T, P](rec), meta[T, P](before)
	m.ID = id
	m.CreatedAt = prev.CreatedAt
	m.Version = prev.Version + 1
	m.UpdatedAt = t.now
	return withID(a.prepare(t, rec, before), id)
}

func (a table[T, P]) Delete(ctx context.Context, id domain.EntityID) error {
	_, err := a.store.runInTransaction(ctx, a.entity, func(t *tx) error {
		return a.remove(t, id)
	})
	return err
}

func (a table[T, P]) remove(t *tx, id domain.EntityID) error {
	rows := a.rows(&t.state)
	before, ok := rows[id]
	if !ok {
		return domain.NewNotFoundError(a.entity, id)
	}
	delete(rows, id)
	change, err := domain.NewChange[T](a.entity, domain.ActionDelete, id, &before, nil)
	if err != nil {
		return err
	}
	t.record(change)
	return nil
}

func (a table[T, P]) Get(ctx context.Context, id domain.EntityID) (T, error) {
	var out T
	err := a.store.view(ctx, a.entity, func(st *state) error {
		rec, ok := a.rows(st)[id]
		if !ok {
			return domain.NewNotFoundError(a.entity, id)
		}
		out = a.clone(rec)
		return nil
	})
	return out, err
}

func (a table[T, P]) List(ctx context.Context, criteria domain.SearchCriteria, page domain.Page) (domain.ListResult[T], error) {
	page = page.Normalize()
	var out domain.ListResult[T]
	err := a.store.view(ctx, a.entity, func(st *state) error {
		norm := criteria.Normalize()
		matched := make([]T, 0)
		for _, rec := range a.rows(st) {
			if len(norm) == 0 || norm.Matches(rec) {
				matched = append(matched, rec)
			}
		}
		sort.Slice(matched, func(i, j int) bool { return matched[i].Identity() < matched[j].Identity() })
		start, end := page.Bounds(len(matched))
		items := make([]T, 0, end-start)
		for _, rec := range matched[start:end] {
			items = append(items, a.clone(rec))
		}
		out = domain.ListResult[T]{Items: items, Total: len(matched), Page: page}
		return nil
	})
	return out, err
}

func (a table[T, P]) BulkUpdate(ctx context.Context, requestID string, ids []domain.EntityID, update domain.BulkUpdate[T]) (int, error) {
	if n, ok := a.store.replayed(requestID); ok {
		return n, nil
	}
	if update == nil {
		return 0, domain.NewValidationError(a.entity, "a bulk operation is required")
	}
	ids = uniqueIDs(ids)
	_, err := a.store.runInTransaction(ctx, a.entity, func(t *tx) error {
		rows := a.rows(&t.state)
		for _, id := range ids {
			before, ok := rows[id]
			if !ok {
				return domain.NewNotFoundError(a.entity, id)
			}
			rec := a.clone(before)
			if err := update.Apply(&rec); err != nil {
				return withID(asValidation(a.entity, err), id)
			}
			if err := a.stamp(t, id, &rec, &before); err != nil {
				return err
			}
			rows[id] = rec
			change, err := domain.NewChange(a.entity, domain.ActionUpdate, id, &before, &rec)
			if err != nil {
				return err
			}
			t.record(change)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.store.rememberRequest(requestID, len(ids))
	return len(ids), nil
}

func (a table[T, P]) BulkDelete(ctx context.Context, requestID string, ids []domain.EntityID) (int, error) {
	if n, ok := a.store.replayed(requestID); ok {
		return n, nil
	}
	ids = uniqueIDs(ids)
	_, err := a.store.runInTransaction(ctx, a.entity, func(t *tx) error {
		for _, id := range ids {
			if err := a.remove(t, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.store.rememberRequest(requestID, len(ids))
	return len(ids), nil
}

func uniqueIDs(ids []domain.EntityID) []domain.EntityID {
	seen := make(map[domain.EntityID]struct{}, len(ids))
	out := make([]domain.EntityID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func withID(err error, id domain.EntityID) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.ID == 0 {
		apiErr.ID = id
	}
	return err
}

func asValidation(entity domain.EntityType, err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &domain.APIError{Kind: domain.ErrValidation, Entity: entity, Message: err.Error(), Err: err}
}
