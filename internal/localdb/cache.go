package localdb

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"spot-api/internal/logger"
	"spot-api/internal/metrics"
)

// entry：落盘格式，timestamp 为写入时刻（Unix 毫秒）
type entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// 文档注释：带 TTL 的本地结果缓存
// 背景：缓存是纯优化层；读时校验 now - timestamp < ttl，过期即删除并视为未命中；Sweep 仅回收空间。
// 约束：同一键的读校验删除与写覆盖按键串行；不同键互不阻塞。底层存储的任何 I/O 错误降级为未命中，不向上抛出。
type TTLCache[T any] struct {
	kv    KV
	ttl   time.Duration
	now   func() time.Time
	locks keyLocks
}

func NewTTLCache[T any](kv KV, ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{kv: kv, ttl: ttl, now: time.Now}
}

// WithClock：替换时钟，测试用
func (c *TTLCache[T]) WithClock(now func() time.Time) *TTLCache[T] {
	c.now = now
	return c
}

func (c *TTLCache[T]) expired(ts int64) bool {
	return c.now().UnixMilli()-ts >= c.ttl.Milliseconds()
}

func (c *TTLCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	unlock := c.locks.lock(key)
	defer unlock()
	b, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		metrics.CacheIOErrorsTotal.Inc()
		logger.L().Warn("cache_read_error", "key", key, "err", err)
		return zero, false
	}
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return zero, false
	}
	var e entry[T]
	if err := json.Unmarshal(b, &e); err != nil {
		logger.L().Warn("cache_decode_error", "key", key, "err", err)
		c.evict(ctx, key)
		metrics.CacheMissesTotal.Inc()
		return zero, false
	}
	if c.expired(e.Timestamp) {
		c.evict(ctx, key)
		metrics.CacheMissesTotal.Inc()
		return zero, false
	}
	metrics.CacheHitsTotal.Inc()
	return e.Data, true
}

func (c *TTLCache[T]) Set(ctx context.Context, key string, v T) {
	b, err := json.Marshal(entry[T]{Data: v, Timestamp: c.now().UnixMilli()})
	if err != nil {
		logger.L().Warn("cache_encode_error", "key", key, "err", err)
		return
	}
	unlock := c.locks.lock(key)
	defer unlock()
	if err := c.kv.Put(ctx, key, b); err != nil {
		metrics.CacheIOErrorsTotal.Inc()
		logger.L().Warn("cache_write_error", "key", key, "err", err)
	}
}

// Delete：删除单个键（调用方持锁外使用）
func (c *TTLCache[T]) Delete(ctx context.Context, key string) {
	unlock := c.locks.lock(key)
	defer unlock()
	c.evict(ctx, key)
}

func (c *TTLCache[T]) evict(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, key); err != nil {
		metrics.CacheIOErrorsTotal.Inc()
		logger.L().Warn("cache_delete_error", "key", key, "err", err)
		return
	}
	metrics.CacheEvictionsTotal.Inc()
}

func (c *TTLCache[T]) Clear(ctx context.Context) {
	keys, err := c.kv.ListKeys(ctx)
	if err != nil {
		metrics.CacheIOErrorsTotal.Inc()
		logger.L().Warn("cache_list_error", "err", err)
		return
	}
	for _, k := range keys {
		c.Delete(ctx, k)
	}
	logger.L().Debug("cache_cleared", "keys", len(keys))
}

// Sweep：遍历全部键，删除已过期条目，返回删除数
func (c *TTLCache[T]) Sweep(ctx context.Context) int {
	return c.EvictWhere(ctx, func(T) bool { return false })
}

// 文档注释：按条件淘汰
// 背景：除过期条目外，额外淘汰 pred 返回 true 的条目；用于审核下线后清理包含该摊位的缓存列表。
// 返回：删除的条目数；列举失败时返回 0。
func (c *TTLCache[T]) EvictWhere(ctx context.Context, pred func(T) bool) int {
	keys, err := c.kv.ListKeys(ctx)
	if err != nil {
		metrics.CacheIOErrorsTotal.Inc()
		logger.L().Warn("cache_list_error", "err", err)
		return 0
	}
	n := 0
	for _, k := range keys {
		if c.evictIf(ctx, k, pred) {
			n++
		}
	}
	logger.L().Debug("cache_sweep_done", "keys", len(keys), "evicted", n)
	return n
}

func (c *TTLCache[T]) evictIf(ctx context.Context, key string, pred func(T) bool) bool {
	unlock := c.locks.lock(key)
	defer unlock()
	b, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	var e entry[T]
	if err := json.Unmarshal(b, &e); err != nil || c.expired(e.Timestamp) || pred(e.Data) {
		c.evict(ctx, key)
		return true
	}
	return false
}

// keyLocks：按键的互斥锁表，引用计数归零即回收
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*keyLock)
	}
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()
	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
