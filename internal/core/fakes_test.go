package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crmcore/pkg/domain"
)

// fakeAPI is a scriptable EntityAPI. Unset hooks succeed with zero values.
type fakeAPI[T domain.Record] struct {
	mu    sync.Mutex
	calls []string

	create     func(context.Context, T) (T, error)
	update     func(context.Context, domain.EntityID, T) (T, error)
	remove     func(context.Context, domain.EntityID) error
	get        func(context.Context, domain.EntityID) (T, error)
	list       func(context.Context, domain.SearchCriteria, domain.Page) (domain.ListResult[T], error)
	bulkUpdate func(context.Context, string, []domain.EntityID, domain.BulkUpdate[T]) (int, error)
	bulkDelete func(context.Context, string, []domain.EntityID) (int, error)
}

func (f *fakeAPI[T]) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeAPI[T]) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI[T]) Create(ctx context.Context, rec T) (T, error) {
	f.record("create")
	if f.create != nil {
		return f.create(ctx, rec)
	}
	return rec, nil
}

func (f *fakeAPI[T]) Update(ctx context.Context, id domain.EntityID, rec T) (T, error) {
	f.record("update %d", id)
	if f.update != nil {
		return f.update(ctx, id, rec)
	}
	return rec, nil
}

func (f *fakeAPI[T]) Delete(ctx context.Context, id domain.EntityID) error {
	f.record("delete %d", id)
	if f.remove != nil {
		return f.remove(ctx, id)
	}
	return nil
}

func (f *fakeAPI[T]) Get(ctx context.Context, id domain.EntityID) (T, error) {
	f.record("get %d", id)
	if f.get != nil {
		return f.get(ctx, id)
	}
	var zero T
	return zero, domain.NewNotFoundError("", id)
}

func (f *fakeAPI[T]) List(ctx context.Context, c domain.SearchCriteria, p domain.Page) (domain.ListResult[T], error) {
	f.record("list %d", p.Number)
	if f.list != nil {
		return f.list(ctx, c, p)
	}
	return domain.ListResult[T]{Page: p}, nil
}

func (f *fakeAPI[T]) BulkUpdate(ctx context.Context, requestID string, ids []domain.EntityID, u domain.BulkUpdate[T]) (int, error) {
	f.record("bulk_update %v", ids)
	if f.bulkUpdate != nil {
		return f.bulkUpdate(ctx, requestID, ids, u)
	}
	return len(ids), nil
}

func (f *fakeAPI[T]) BulkDelete(ctx context.Context, requestID string, ids []domain.EntityID) (int, error) {
	f.record("bulk_delete %v", ids)
	if f.bulkDelete != nil {
		return f.bulkDelete(ctx, requestID, ids)
	}
	return len(ids), nil
}

type fakeDealAPI struct {
	fakeAPI[domain.Deal]
	transition func(context.Context, domain.EntityID, domain.DealTransition) (domain.Deal, error)
}

func (f *fakeDealAPI) Transition(ctx context.Context, id domain.EntityID, t domain.DealTransition) (domain.Deal, error) {
	f.record("transition %d %s", id, t.Kind)
	if f.transition != nil {
		return f.transition(ctx, id, t)
	}
	return domain.Deal{}, nil
}

type fakePipelines map[domain.EntityID]domain.Pipeline

func (p fakePipelines) Get(_ context.Context, id domain.EntityID) (domain.Pipeline, error) {
	pl, ok := p[id]
	if !ok {
		return domain.Pipeline{}, domain.NewNotFoundError(domain.EntityPipeline, id)
	}
	return pl, nil
}

type captureCache struct {
	mu     sync.Mutex
	events []string
}

func (c *captureCache) Invalidate(ns string) {
	c.mu.Lock()
	c.events = append(c.events, "invalidate "+ns)
	c.mu.Unlock()
}

func (c *captureCache) RefetchActive(_ context.Context, ns string) {
	c.mu.Lock()
	c.events = append(c.events, "refetch "+ns)
	c.mu.Unlock()
}

func (c *captureCache) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type captureNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *captureNotifier) Success(msg string) {
	n.mu.Lock()
	n.successes = append(n.successes, msg)
	n.mu.Unlock()
}

func (n *captureNotifier) Error(msg string) {
	n.mu.Lock()
	n.errors = append(n.errors, msg)
	n.mu.Unlock()
}

func (n *captureNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.successes), len(n.errors)
}

type captureMetrics struct {
	mu  sync.Mutex
	ops []string
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	m.ops = append(m.ops, fmt.Sprintf("%s:%t", op, success))
	m.mu.Unlock()
}

// salesPipeline has open stages 10 and 11, won stage 12 and lost stage 13.
func salesPipeline() domain.Pipeline {
	return domain.Pipeline{
		Base:   domain.Base{ID: 1, Version: 1},
		Name:   "Sales",
		Active: true,
		Stages: []domain.Stage{
			{ID: 10, Name: "Qualified", Position: 0, Kind: domain.StageOpen},
			{ID: 11, Name: "Proposal", Position: 1, Kind: domain.StageOpen},
			{ID: 12, Name: "Won", Position: 2, Kind: domain.StageWon},
			{ID: 13, Name: "Lost", Position: 3, Kind: domain.StageLost},
		},
	}
}
