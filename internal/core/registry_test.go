package core

import (
	"context"
	"reflect"
	"testing"

	"crmcore/pkg/domain"
)

type fakeBackend struct {
	contacts   *fakeAPI[domain.Contact]
	companies  *fakeAPI[domain.Company]
	activities *fakeAPI[domain.Activity]
	pipelines  *fakeAPI[domain.Pipeline]
	deals      *fakeDealAPI
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contacts:   &fakeAPI[domain.Contact]{},
		companies:  &fakeAPI[domain.Company]{},
		activities: &fakeAPI[domain.Activity]{},
		pipelines:  &fakeAPI[domain.Pipeline]{},
		deals:      &fakeDealAPI{},
	}
}

func (b *fakeBackend) Contacts() EntityAPI[domain.Contact]    { return b.contacts }
func (b *fakeBackend) Companies() EntityAPI[domain.Company]   { return b.companies }
func (b *fakeBackend) Activities() EntityAPI[domain.Activity] { return b.activities }
func (b *fakeBackend) Pipelines() EntityAPI[domain.Pipeline]  { return b.pipelines }
func (b *fakeBackend) Deals() DealAPI                         { return b.deals }

type closingCache struct {
	captureCache
	closed bool
}

func (c *closingCache) Close() error {
	c.closed = true
	return nil
}

func TestNewStoresReconcilesDependents(t *testing.T) {
	cache := &closingCache{}
	stores := NewStores(newFakeBackend(), cache, &captureNotifier{})
	ctx := context.Background()

	if _, ok := stores.Companies.Create(ctx, domain.Company{Name: "Acme"}, nil); !ok {
		t.Fatalf("create company failed")
	}
	want := []string{
		"invalidate companies", "invalidate contacts", "invalidate deals",
		"refetch companies", "refetch contacts", "refetch deals",
	}
	if got := cache.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cache events %v, want %v", got, want)
	}
	for _, entity := range domain.EntityTypes() {
		if _, ok := dependentNamespaces[entity]; !ok {
			t.Fatalf("no dependent namespaces declared for %s", entity)
		}
	}
}

func TestStoresDealsUsePipelineStore(t *testing.T) {
	be := newFakeBackend()
	be.pipelines.get = func(_ context.Context, id domain.EntityID) (domain.Pipeline, error) {
		return salesPipeline(), nil
	}
	current := openDeal()
	be.deals.transition = applying(&current)
	stores := NewStores(be, nil, nil)

	won, err := stores.Deals.CloseWon(context.Background(), current, nil)
	if err != nil || won.Status != domain.DealWon {
		t.Fatalf("close won: %+v %v", won, err)
	}
	if calls := be.pipelines.Calls(); len(calls) != 1 || calls[0] != "get 1" {
		t.Fatalf("expected the pipeline to be read once, got %v", calls)
	}
}

func TestStoresClose(t *testing.T) {
	cache := &closingCache{}
	stores := NewStores(newFakeBackend(), cache, nil)
	if err := stores.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !cache.closed {
		t.Fatalf("closable cache must be closed")
	}
	if _, ok := stores.Contacts.Create(context.Background(), domain.Contact{FirstName: "x"}, nil); ok {
		t.Fatalf("closed stores must reject mutations")
	}
}
