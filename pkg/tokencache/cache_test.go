package tokencache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryCache_ExpiryAndSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Set(ctx, "remita:token", "abc", time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := cache.Set(ctx, "isw:token", "def", 10*time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if value, ok, _ := cache.Get(ctx, "remita:token"); !ok || value != "abc" {
		t.Fatalf("expected cached value, got %q ok=%v", value, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, "remita:token"); ok {
		t.Fatalf("expected entry to expire at its ttl")
	}
	if removed := cache.Sweep(); removed != 1 {
		t.Fatalf("expected one expired entry swept, got %d", removed)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one live entry, got %d", cache.Len())
	}

	if err := cache.Delete(ctx, "isw:token"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after delete")
	}
}

func TestMemoryCache_RejectsNonPositiveTTL(t *testing.T) {
	if err := NewMemoryCache().Set(context.Background(), "k", "v", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestGetOrFetch(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "token-1", time.Hour, nil
	}

	for i := 0; i < 3; i++ {
		value, err := GetOrFetch(ctx, cache, "gateway", fetch)
		if err != nil || value != "token-1" {
			t.Fatalf("unexpected result %q, %v", value, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	failing := func(ctx context.Context) (string, time.Duration, error) {
		return "", 0, errors.New("gateway auth failed")
	}
	if _, err := GetOrFetch(ctx, cache, "other", failing); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}

	uncached := func(ctx context.Context) (string, time.Duration, error) {
		return "once", 0, nil
	}
	if value, err := GetOrFetch(ctx, cache, "no-ttl", uncached); err != nil || value != "once" {
		t.Fatalf("unexpected result %q, %v", value, err)
	}
	if _, ok, _ := cache.Get(ctx, "no-ttl"); ok {
		t.Fatalf("expected value without ttl not to be cached")
	}
}

func TestRedisCache_KeyPrefixAndUnavailableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	cache := NewRedisCache(client, " settlement:tokens: ")
	if got := cache.key("remita"); got != "settlement:tokens:remita" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := NewRedisCache(client, "").key("x"); got != DefaultPrefix+":x" {
		t.Fatalf("unexpected default key %q", got)
	}

	if _, _, err := cache.Get(context.Background(), "remita"); err == nil {
		t.Fatalf("expected error from unreachable redis")
	}
	if err := cache.Set(context.Background(), "remita", "v", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
