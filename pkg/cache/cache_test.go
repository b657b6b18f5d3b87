package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryGetSet(t *testing.T) {
	c := New(10, nil)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "fraud", "abc", time.Minute); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(ctx, "fraud", "abc", []byte(`{"score":0.52}`), time.Minute)
	got, ok := c.Get(ctx, "fraud", "abc", time.Minute)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if !bytes.Equal(got, []byte(`{"score":0.52}`)) {
		t.Errorf("got %q, want stored bytes back unchanged", got)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	c := New(10, nil)
	ctx := context.Background()

	c.Set(ctx, "fraud", "k", []byte("fraud-val"), time.Minute)
	c.Set(ctx, "risk", "k", []byte("risk-val"), time.Minute)

	got, ok := c.Get(ctx, "fraud", "k", time.Minute)
	if !ok || string(got) != "fraud-val" {
		t.Errorf("fraud namespace returned %q, want fraud-val", got)
	}
	got, ok = c.Get(ctx, "risk", "k", time.Minute)
	if !ok || string(got) != "risk-val" {
		t.Errorf("risk namespace returned %q, want risk-val", got)
	}
}

func TestExpiry(t *testing.T) {
	c := New(10, nil)
	ctx := context.Background()

	c.Set(ctx, "fraud", "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(ctx, "fraud", "short", time.Minute); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestSizeBound(t *testing.T) {
	c := New(16, nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		c.Set(ctx, "fraud", string(rune('a'+i%26))+string(rune('0'+i/26)), []byte("v"), time.Minute)
	}
	if n := c.Stats().Entries; n > 16 {
		t.Errorf("cache holds %d entries, capacity is 16", n)
	}
}

func TestDelete(t *testing.T) {
	c := New(10, nil)
	ctx := context.Background()

	c.Set(ctx, "risk", "k", []byte("v"), time.Minute)
	c.Delete(ctx, "risk", "k")
	if _, ok := c.Get(ctx, "risk", "k", time.Minute); ok {
		t.Error("expected miss after delete")
	}
}

func TestRedisTierBackfill(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	ctx := context.Background()

	// Write through one cache instance, read through a fresh one so the
	// value can only have come from the Redis tier.
	writer := New(10, rdb)
	writer.Set(ctx, "fraud", "shared", []byte("via-redis"), time.Minute)

	reader := New(10, rdb)
	got, ok := reader.Get(ctx, "fraud", "shared", time.Minute)
	if !ok {
		t.Fatal("expected hit from redis tier")
	}
	if string(got) != "via-redis" {
		t.Errorf("got %q, want via-redis", got)
	}

	// The read should have backfilled memory: stop redis and read again.
	srv.Close()
	got, ok = reader.Get(ctx, "fraud", "shared", time.Minute)
	if !ok || string(got) != "via-redis" {
		t.Errorf("memory backfill missing: got %q ok=%v", got, ok)
	}
}

func TestRedisDownDegradesToMemory(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	c := New(10, rdb)
	ctx := context.Background()
	srv.Close()

	// Redis writes fail, memory tier still serves.
	c.Set(ctx, "risk", "k", []byte("v"), time.Minute)
	if got, ok := c.Get(ctx, "risk", "k", time.Minute); !ok || string(got) != "v" {
		t.Errorf("memory tier should serve when redis is down, got %q ok=%v", got, ok)
	}
}
