package terminology

import (
	"testing"
	"time"
)

func TestTTLCacheExpiresLazily(t *testing.T) {
	cache := newTTLCache[string, int](time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Set("a", 1)
	if v, ok := cache.Get("a"); !ok || v != 1 {
		t.Fatalf("expected cached value 1, got %v, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("a"); ok {
		t.Errorf("expected entry to have expired after the TTL elapsed")
	}
	if _, ok := cache.entries["a"]; ok {
		t.Errorf("expected Get to evict the expired entry")
	}
}

func TestTTLCacheMissingKey(t *testing.T) {
	cache := newTTLCache[string, int](time.Minute)
	if _, ok := cache.Get("missing"); ok {
		t.Errorf("expected no value for a key that was never set")
	}
}
