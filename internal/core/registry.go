package core

import (
	"io"

	"crmcore/pkg/domain"
)

// Stores is the set of entity stores an application instance owns. It is
// built once at start-up, passed to the views that need it, and closed on
// shutdown.
type Stores struct {
	Contacts   *EntityStore[domain.Contact]
	Companies  *EntityStore[domain.Company]
	Activities *EntityStore[domain.Activity]
	Pipelines  *EntityStore[domain.Pipeline]
	Deals      *DealController

	cache Cache
}

// dependentNamespaces lists the other namespaces whose views embed each entity type.
var dependentNamespaces = map[domain.EntityType][]string{
	domain.EntityContact:  {domain.EntityDeal.Namespace(), domain.EntityActivity.Namespace()},
	domain.EntityCompany:  {domain.EntityContact.Namespace(), domain.EntityDeal.Namespace()},
	domain.EntityDeal:     {domain.EntityPipeline.Namespace(), domain.EntityActivity.Namespace()},
	domain.EntityActivity: {domain.EntityDeal.Namespace()},
	domain.EntityPipeline: {domain.EntityDeal.Namespace()},
}

func storeOptions(entity domain.EntityType, opts []Option) []Option {
	out := make([]Option, 0, len(opts)+1)
	out = append(out, WithDependentNamespaces(dependentNamespaces[entity]...))
	return append(out, opts...)
}

// NewStores builds one store per entity type over backend, sharing cache and notifier.
func NewStores(backend Backend, cache Cache, notifier Notifier, opts ...Option) *Stores {
	pipelines := NewEntityStore(domain.EntityPipeline, backend.Pipelines(), cache, notifier, storeOptions(domain.EntityPipeline, opts)...)
	return &Stores{
		Contacts:   NewEntityStore(domain.EntityContact, backend.Contacts(), cache, notifier, storeOptions(domain.EntityContact, opts)...),
		Companies:  NewEntityStore(domain.EntityCompany, backend.Companies(), cache, notifier, storeOptions(domain.EntityCompany, opts)...),
		Activities: NewEntityStore(domain.EntityActivity, backend.Activities(), cache, notifier, storeOptions(domain.EntityActivity, opts)...),
		Pipelines:  pipelines,
		Deals:      NewDealController(backend.Deals(), pipelines, cache, notifier, storeOptions(domain.EntityDeal, opts)...),
		cache:      cache,
	}
}

// Close shuts every store down and closes the cache when it is closable.
func (s *Stores) Close() error {
	s.Contacts.Close()
	s.Companies.Close()
	s.Activities.Close()
	s.Pipelines.Close()
	s.Deals.Close()
	if c, ok := s.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
