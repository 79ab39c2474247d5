// internal/cache/cache_test.go
//
// Unit-tests for the region cache facade.
//
// Covered behaviours:
//
//   • Set/Get/Evict confined to one (region, key) pair.
//   • Read-through load on miss, no reload on hit.
//   • cacheAbsent=true stores a nil result; false does not.
//   • Loader errors propagate and leave no entry behind.
//   • Concurrent readers do not corrupt the maps.
package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestSetGetEvict_RegionIsolation(t *testing.T) {
	c := New()
	c.Set("User", "42", "alice")
	c.Set("Blog", "42", "post")

	if v, ok := c.Get("User", "42"); !ok || v != "alice" {
		t.Fatalf("Get(User,42) = %v, %v", v, ok)
	}

	c.Evict("User", "42")
	if _, ok := c.Get("User", "42"); ok {
		t.Fatal("User/42 survived eviction")
	}
	if v, ok := c.Get("Blog", "42"); !ok || v != "post" {
		t.Fatalf("Blog/42 disturbed by User eviction: %v, %v", v, ok)
	}
}

func TestGetOrLoad_LoadsOnceOnHit(t *testing.T) {
	c := New()
	calls := 0
	loader := func() (any, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("User", "7", loader, false)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if v != "loaded" {
			t.Fatalf("value = %v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("loader ran %d times, want 1", calls)
	}
}

func TestGetOrLoad_CacheAbsent(t *testing.T) {
	c := New()
	calls := 0
	nilLoader := func() (any, error) {
		calls++
		return nil, nil
	}

	// cacheAbsent=true: second call must not re-run the loader.
	if _, err := c.GetOrLoad("User", "404", nilLoader, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrLoad("User", "404", nilLoader, true); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("absent result not cached: loader ran %d times", calls)
	}

	// The marker reads back as a present-but-nil entry.
	if v, ok := c.Get("User", "404"); !ok || v != nil {
		t.Fatalf("absent marker: got %v, %v", v, ok)
	}

	// cacheAbsent=false: every miss re-runs the loader.
	calls = 0
	for i := 0; i < 2; i++ {
		if _, err := c.GetOrLoad("User", "405", nilLoader, false); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 2 {
		t.Fatalf("nil result was cached: loader ran %d times", calls)
	}
}

func TestGetOrLoad_ErrorPropagates(t *testing.T) {
	c := New()
	boom := errors.New("storage down")
	_, err := c.GetOrLoad("User", "1", func() (any, error) { return nil, boom }, true)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, ok := c.Get("User", "1"); ok {
		t.Fatal("failed load left an entry behind")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("R", "k", n)
				c.Get("R", "k")
				c.Evict("R", "other")
			}
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get("R", "k"); !ok {
		t.Fatal("key lost under concurrent access")
	}
}
