package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crmcore/internal/core"
	"crmcore/internal/infra/persistence/memory"
	"crmcore/pkg/domain"
)

func listKey(ns string, page int) core.QueryKey {
	return core.QueryKey{Namespace: ns, Kind: core.QueryList, Fingerprint: "all/25", Page: page}
}

func counter(n *atomic.Int64, value string) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		return fmt.Sprintf("%s#%d", value, n.Add(1)), nil
	}
}

func TestFetchCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	c, err := New(8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var loads atomic.Int64
	key := listKey("contacts", 1)
	first, err := c.Fetch(ctx, key, counter(&loads, "contacts"))
	if err != nil || first != "contacts#1" {
		t.Fatalf("first fetch: %v %v", first, err)
	}
	again, _ := c.Fetch(ctx, key, counter(&loads, "contacts"))
	if again != "contacts#1" || loads.Load() != 1 {
		t.Fatalf("expected cached value, got %v after %d loads", again, loads.Load())
	}

	c.Invalidate("deals")
	if v, stale, ok := c.Peek(key); !ok || stale || v != "contacts#1" {
		t.Fatalf("other namespace invalidation must not touch contacts: %v %v %v", v, stale, ok)
	}
	c.Invalidate("contacts")
	c.Invalidate("contacts")
	if _, stale, _ := c.Peek(key); !stale {
		t.Fatalf("expected stale entry after invalidation")
	}
	if loads.Load() != 1 {
		t.Fatalf("invalidate must not load, got %d loads", loads.Load())
	}
	refreshed, _ := c.Fetch(ctx, key, counter(&loads, "contacts"))
	if refreshed != "contacts#2" {
		t.Fatalf("expected reload after invalidation, got %v", refreshed)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.Invalidated != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFetchErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := New(0)
	key := listKey("deals", 1)
	boom := errors.New("backend down")
	if _, err := c.Fetch(ctx, key, func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, _, ok := c.Peek(key); ok {
		t.Fatalf("failed loads must not be cached")
	}
}

func TestRefetchActiveOnlyRunsWatchedQueries(t *testing.T) {
	ctx := context.Background()
	c, _ := New(8)
	var watched, unwatched atomic.Int64
	watchedKey := listKey("deals", 1)
	otherKey := listKey("deals", 2)

	unwatch := c.Watch(watchedKey, counter(&watched, "w"))
	_, _ = c.Fetch(ctx, watchedKey, counter(&watched, "w"))
	_, _ = c.Fetch(ctx, otherKey, counter(&unwatched, "u"))

	c.Invalidate("deals")
	c.RefetchActive(ctx, "deals")
	if watched.Load() != 2 {
		t.Fatalf("expected watched query refetched, loads=%d", watched.Load())
	}
	if unwatched.Load() != 1 {
		t.Fatalf("unwatched query must wait for the next fetch, loads=%d", unwatched.Load())
	}
	if v, stale, _ := c.Peek(watchedKey); stale || v != "w#2" {
		t.Fatalf("expected fresh refetched value, got %v stale=%v", v, stale)
	}

	unwatch()
	unwatch()
	c.RefetchActive(ctx, "deals")
	if watched.Load() != 2 {
		t.Fatalf("refetch after unwatch must not load, loads=%d", watched.Load())
	}
}

func TestRefetchFailureLeavesEntryStale(t *testing.T) {
	ctx := context.Background()
	c, _ := New(8)
	key := listKey("pipelines", 1)
	var calls atomic.Int64
	load := func(context.Context) (any, error) {
		if calls.Add(1) > 1 {
			return nil, errors.New("flaky")
		}
		return "ok", nil
	}
	defer c.Watch(key, load)()
	_, _ = c.Fetch(ctx, key, load)
	c.Invalidate("pipelines")
	c.RefetchActive(ctx, "pipelines")
	if _, stale, _ := c.Peek(key); !stale {
		t.Fatalf("expected entry to stay stale after failed refetch")
	}
	if c.Stats().RefetchError != 1 {
		t.Fatalf("expected one refetch error, got %+v", c.Stats())
	}
}

func TestAsyncRefetchAndClose(t *testing.T) {
	ctx := context.Background()
	c, _ := New(8, WithAsyncRefetch())
	key := listKey("activities", 1)
	var loads atomic.Int64
	defer c.Watch(key, counter(&loads, "a"))()
	c.RefetchActive(ctx, "activities")
	c.Wait()
	if loads.Load() != 1 {
		t.Fatalf("expected background refetch, loads=%d", loads.Load())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	c.RefetchActive(ctx, "activities")
	c.Wait()
	if loads.Load() != 1 {
		t.Fatalf("closed cache must not refetch, loads=%d", loads.Load())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestStaleAfter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c, _ := New(8, WithStaleAfter(time.Minute), WithClock(clock))
	key := listKey("companies", 1)
	var loads atomic.Int64
	_, _ = c.Fetch(ctx, key, counter(&loads, "c"))
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, _ = c.Fetch(ctx, key, counter(&loads, "c"))
	if loads.Load() != 2 {
		t.Fatalf("expected expired entry to reload, loads=%d", loads.Load())
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := New(2)
	var loads atomic.Int64
	for page := 1; page <= 3; page++ {
		_, _ = c.Fetch(ctx, listKey("contacts", page), counter(&loads, "p"))
	}
	if _, _, ok := c.Peek(listKey("contacts", 1)); ok {
		t.Fatalf("expected oldest page evicted")
	}
	c.Purge()
	if c.Stats().Entries != 0 {
		t.Fatalf("expected purge to drop entries")
	}
}

func TestMountedStoreQueriesRefetchAfterMutation(t *testing.T) {
	qc, err := New(0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	stores := core.NewStores(memory.NewStore(core.NewDefaultRulesEngine()), qc, nil)
	defer stores.Close()
	ctx := context.Background()

	unwatch := stores.Contacts.WatchList(nil, domain.Page{})
	defer unwatch()
	if res, err := stores.Contacts.List(ctx, nil, domain.Page{}); err != nil || res.Total != 0 {
		t.Fatalf("list: %+v %v", res, err)
	}
	if _, ok := stores.Contacts.Create(ctx, domain.Contact{FirstName: "Ada"}, nil); !ok {
		t.Fatalf("create failed")
	}

	stats := qc.Stats()
	if stats.Invalidated != 1 || stats.Refetched != 1 {
		t.Fatalf("expected the mounted list to be refetched, got %+v", stats)
	}
	v, stale, ok := qc.Peek(listKey("contacts", 1))
	if !ok || stale {
		t.Fatalf("mounted list must be fresh after reconciliation: ok=%t stale=%t", ok, stale)
	}
	if res := v.(domain.ListResult[domain.Contact]); res.Total != 1 {
		t.Fatalf("refetched list must include the new contact, got %+v", res)
	}

	unwatch()
	if _, ok := stores.Contacts.Create(ctx, domain.Contact{FirstName: "Grace"}, nil); !ok {
		t.Fatalf("create failed")
	}
	if got := qc.Stats().Refetched; got != 1 {
		t.Fatalf("unmounted queries are not refetched, got %d refetches", got)
	}
}
