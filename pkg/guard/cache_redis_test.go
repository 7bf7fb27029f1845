package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "", nil), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedisCache(t)

	if _, ok := c.Get(ctx, "fp1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(ctx, "fp1", testVerdict(ClassPromptInjection, 0.95), time.Minute)
	got, ok := c.Get(ctx, "fp1")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.Class != ClassPromptInjection {
		t.Errorf("cached class mismatch: %s", got.Class)
	}
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	c.Put(ctx, "fp1", testVerdict(ClassToxicity, 0.8), time.Minute)
	mr.FastForward(2 * time.Minute)

	if _, ok := c.Get(ctx, "fp1"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	if err := mr.Set("bulwark:verdict:fp1", "not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "fp1"); ok {
		t.Error("corrupt entry should behave as a miss")
	}
}

func TestRedisCacheUnavailableDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedisCache(t)

	c.Put(ctx, "fp1", testVerdict(ClassBias, 0.7), time.Minute)
	mr.Close()

	// Redis gone: reads degrade to a miss, writes are dropped, nothing
	// propagates to the caller.
	if _, ok := c.Get(ctx, "fp1"); ok {
		t.Error("expected miss when redis is unavailable")
	}
	c.Put(ctx, "fp2", testVerdict(ClassBias, 0.7), time.Minute)
}
