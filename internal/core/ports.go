package core

import (
	"context"

	"crmcore/pkg/domain"
)

// EntityAPI is the remote entity API for one entity type. Implementations
// return *domain.APIError values so failures can be classified.
type EntityAPI[T domain.Record] interface {
	Create(ctx context.Context, record T) (T, error)
	// Update replaces the record; record.LockVersion() must match the stored version.
	Update(ctx context.Context, id domain.EntityID, record T) (T, error)
	Delete(ctx context.Context, id domain.EntityID) error
	Get(ctx context.Context, id domain.EntityID) (T, error)
	List(ctx context.Context, criteria domain.SearchCriteria, page domain.Page) (domain.ListResult[T], error)
	// BulkUpdate applies update to every id in one batched call and returns the affected count.
	BulkUpdate(ctx context.Context, requestID string, ids []domain.EntityID, update domain.BulkUpdate[T]) (int, error)
	BulkDelete(ctx context.Context, requestID string, ids []domain.EntityID) (int, error)
}

// DealAPI adds lifecycle transitions to the deal entity API.
type DealAPI interface {
	EntityAPI[domain.Deal]
	Transition(ctx context.Context, id domain.EntityID, transition domain.DealTransition) (domain.Deal, error)
}

// PipelineReader resolves the pipeline a deal belongs to.
type PipelineReader interface {
	Get(ctx context.Context, id domain.EntityID) (domain.Pipeline, error)
}

// Backend groups the entity APIs of every managed type.
type Backend interface {
	Contacts() EntityAPI[domain.Contact]
	Companies() EntityAPI[domain.Company]
	Activities() EntityAPI[domain.Activity]
	Pipelines() EntityAPI[domain.Pipeline]
	Deals() DealAPI
}

// Cache is the read-side cache the stores reconcile after mutations. Both
// calls address every query whose key starts with namespace and must be
// idempotent.
type Cache interface {
	Invalidate(namespace string)
	RefetchActive(ctx context.Context, namespace string)
}

// Query kinds used in cache keys.
const (
	QueryList   = "list"
	QueryDetail = "detail"
)

// QueryKey addresses one cached query result.
type QueryKey struct {
	Namespace   string
	Kind        string
	Fingerprint string
	Page        int
}

// QueryCache is a Cache that can also serve reads. Stores route Get and List
// through it when the configured cache implements it.
type QueryCache interface {
	Cache
	Fetch(ctx context.Context, key QueryKey, load func(context.Context) (any, error)) (any, error)
	// Watch mounts key so RefetchActive re-runs load for it. The returned
	// function unmounts it.
	Watch(key QueryKey, load func(context.Context) (any, error)) func()
}

// Notifier surfaces outcomes to the user. Calls must not block or panic.
type Notifier interface {
	Success(message string)
	Error(message string)
}

type noopCache struct{}

func (noopCache) Invalidate(string)                     {}
func (noopCache) RefetchActive(context.Context, string) {}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}
