package localdb

import (
	"context"
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCache(t *testing.T, kv KV) (*TTLCache[[]string], *clock) {
	t.Helper()
	clk := &clock{t: time.UnixMilli(1_000_000)}
	return NewTTLCache[[]string](kv, 5*time.Minute).WithClock(clk.now), clk
}

func TestTTLCacheRoundTrip(t *testing.T) {
	c, clk := newCache(t, NewMemKV())
	ctx := context.Background()
	c.Set(ctx, "spots_wsqqq", []string{"a", "b"})
	clk.advance(5*time.Minute - time.Millisecond)
	got, ok := c.Get(ctx, "spots_wsqqq")
	if !ok || len(got) != 2 || got[0] != "a" {
		t.Fatalf("want hit [a b], got %v %v", got, ok)
	}
}

func TestTTLCacheExpiresAtTTL(t *testing.T) {
	kv := NewMemKV()
	c, clk := newCache(t, kv)
	ctx := context.Background()
	c.Set(ctx, "k", []string{"a"})
	clk.advance(5 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("want miss once age reaches ttl")
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("expired entry should be evicted on read")
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("second read after eviction must also miss")
	}
}

func TestTTLCacheSweepAndClear(t *testing.T) {
	kv := NewMemKV()
	c, clk := newCache(t, kv)
	ctx := context.Background()
	c.Set(ctx, "old1", []string{"x"})
	c.Set(ctx, "old2", []string{"y"})
	clk.advance(4 * time.Minute)
	c.Set(ctx, "fresh", []string{"z"})
	clk.advance(2 * time.Minute)
	if n := c.Sweep(ctx); n != 2 {
		t.Fatalf("want 2 swept, got %d", n)
	}
	keys, _ := kv.ListKeys(ctx)
	if len(keys) != 1 || keys[0] != "fresh" {
		t.Fatalf("want only fresh left, got %v", keys)
	}
	if n := c.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep: want 0, got %d", n)
	}
	c.Clear(ctx)
	keys, _ = kv.ListKeys(ctx)
	if len(keys) != 0 {
		t.Fatalf("want empty after clear, got %v", keys)
	}
}

func TestTTLCacheEvictWhere(t *testing.T) {
	c, _ := newCache(t, NewMemKV())
	ctx := context.Background()
	c.Set(ctx, "a", []string{"s1", "s2"})
	c.Set(ctx, "b", []string{"s3"})
	n := c.EvictWhere(ctx, func(v []string) bool {
		for _, id := range v {
			if id == "s2" {
				return true
			}
		}
		return false
	})
	if n != 1 {
		t.Fatalf("want 1 evicted, got %d", n)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("list containing s2 should be gone")
	}
	if _, ok := c.Get(ctx, "b"); !ok {
		t.Fatal("unrelated list should remain")
	}
}

type brokenKV struct{}

var errDisk = errors.New("disk unavailable")

func (brokenKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDisk }
func (brokenKV) Put(context.Context, string, []byte) error         { return errDisk }
func (brokenKV) Delete(context.Context, string) error              { return errDisk }
func (brokenKV) ListKeys(context.Context) ([]string, error)        { return nil, errDisk }

func TestTTLCacheDegradesOnIOError(t *testing.T) {
	c, _ := newCache(t, brokenKV{})
	ctx := context.Background()
	c.Set(ctx, "k", []string{"a"})
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("want miss on read error")
	}
	if n := c.Sweep(ctx); n != 0 {
		t.Fatalf("want 0 on list error, got %d", n)
	}
	c.Clear(ctx)
}

func TestTTLCacheCorruptEntryIsMiss(t *testing.T) {
	kv := NewMemKV()
	c, _ := newCache(t, kv)
	ctx := context.Background()
	_ = kv.Put(ctx, "k", []byte("{not json"))
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("want miss for corrupt entry")
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("corrupt entry should be evicted")
	}
}

func TestFileKVPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newCache(t, kv)
	c.Set(ctx, "spots_wx4g0", []string{"a"})

	reopened, err := NewFileKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	c2, _ := newCache(t, reopened)
	got, ok := c2.Get(ctx, "spots_wx4g0")
	if !ok || len(got) != 1 || got[0] != "a" {
		t.Fatalf("want persisted hit, got %v %v", got, ok)
	}
	keys, _ := reopened.ListKeys(ctx)
	if len(keys) != 1 || keys[0] != "spots_wx4g0" {
		t.Fatalf("want one decoded key, got %v", keys)
	}
	if err := reopened.Delete(ctx, "spots_wx4g0"); err != nil {
		t.Fatal(err)
	}
	if err := reopened.Delete(ctx, "spots_wx4g0"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
}

func TestOpenBackend(t *testing.T) {
	kv, closer, err := OpenBackend("memory", "")
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if _, ok := kv.(*MemKV); !ok {
		t.Fatalf("want *MemKV, got %T", kv)
	}
	kv, _, err = OpenBackend("file", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kv.(*FileKV); !ok {
		t.Fatalf("want *FileKV, got %T", kv)
	}
	if _, _, err := OpenBackend("nope", ""); err == nil {
		t.Fatal("want error for unknown backend")
	}
}
