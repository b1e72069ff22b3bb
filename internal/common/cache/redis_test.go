package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"arena/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheBasicOps(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if got, err := c.Get(ctx, "missing"); err != nil || got != "" {
		t.Fatalf("missing key: got %q err %v", got, err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := c.Get(ctx, "k"); got != "v" {
		t.Fatalf("get = %q", got)
	}
	ok, err := c.SetNX(ctx, "k", "other", time.Minute)
	if err != nil || ok {
		t.Fatalf("setnx on existing key: ok=%v err=%v", ok, err)
	}
	n, _ := c.Incr(ctx, "counter")
	n, _ = c.Incr(ctx, "counter")
	if n != 2 {
		t.Fatalf("incr = %d", n)
	}
	_ = c.Expire(ctx, "counter", time.Second)
	mr.FastForward(2 * time.Second)
	if mr.Exists("counter") {
		t.Fatal("counter should have expired")
	}
}

func TestRedisCacheLockOwnership(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock:a", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.TryLock(ctx, "lock:a", "owner-2", time.Minute); ok {
		t.Fatal("second owner must not acquire a held lock")
	}
	if err := c.Unlock(ctx, "lock:a", "owner-2"); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if ok, _ := c.TryLock(ctx, "lock:a", "owner-2", time.Minute); ok {
		t.Fatal("foreign unlock must not release the lock")
	}
	if err := c.Unlock(ctx, "lock:a", "owner-1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := c.TryLock(ctx, "lock:a", "owner-2", time.Minute); !ok {
		t.Fatal("lock should be free after owner unlock")
	}
}

type item struct {
	Name string `json:"name"`
}

func TestGetWithCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(result *item, err error) func(context.Context) (*item, error) {
		return func(context.Context) (*item, error) {
			calls++
			return result, err
		}
	}
	get := func(key string, fn func(context.Context) (*item, error)) (*item, error) {
		return cache.GetWithCached(ctx, c, key, time.Minute, time.Minute,
			func(v *item) bool { return v == nil },
			func(v *item) (string, error) {
				b, err := json.Marshal(v)
				return string(b), err
			},
			func(s string) (*item, error) {
				var v item
				return &v, json.Unmarshal([]byte(s), &v)
			},
			fn)
	}

	got, err := get("item:1", load(&item{Name: "a"}, nil))
	if err != nil || got.Name != "a" {
		t.Fatalf("first load: %v %v", got, err)
	}
	got, _ = get("item:1", load(&item{Name: "b"}, nil))
	if got.Name != "a" || calls != 1 {
		t.Fatalf("expected cached value, got %v after %d calls", got, calls)
	}

	if got, _ := get("item:none", load(nil, nil)); got != nil {
		t.Fatal("empty result should be nil")
	}
	if got, _ := get("item:none", load(&item{Name: "late"}, nil)); got != nil {
		t.Fatal("null marker should short-circuit the loader")
	}

	boom := errors.New("boom")
	if _, err := get("item:err", load(nil, boom)); !errors.Is(err, boom) {
		t.Fatalf("loader error = %v", err)
	}
}

func TestJitterTTL(t *testing.T) {
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(time.Minute)
		if got > time.Minute || got < 54*time.Second {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatal("zero ttl must stay zero")
	}
}
