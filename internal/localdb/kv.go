// 包 localdb：客户端常驻的本地键值存储与其上的 TTL 结果缓存
package localdb

import (
	"context"
	"sort"
	"sync"
)

// 文档注释：本地键值存储能力
// 背景：TTL 缓存只依赖这四个原语；实现需跨进程重启持久化（文件/Redis），内存实现仅用于测试。
// 约束：Get 未命中返回 ok=false 且 err=nil；Delete 不存在的键不报错。
type KV interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
}

// MemKV：进程内实现
type MemKV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemKV() *MemKV { return &MemKV{m: make(map[string][]byte)} }

func (k *MemKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (k *MemKV) Put(ctx context.Context, key string, val []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = append([]byte(nil), val...)
	return nil
}

func (k *MemKV) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func (k *MemKV) ListKeys(ctx context.Context) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.m))
	for key := range k.m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
