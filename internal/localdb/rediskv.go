package localdb

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisKV：以前缀隔离命名空间的 Redis 实现；过期由 TTLCache 判定，不设置 Redis 自身的 TTL
type RedisKV struct {
	rc     *redis.Client
	prefix string
}

func NewRedisKV(rc *redis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "localdb:"
	}
	return &RedisKV{rc: rc, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rc.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, val []byte) error {
	return r.rc.Set(ctx, r.prefix+key, val, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.rc.Del(ctx, r.prefix+key).Err()
}

// ListKeys：SCAN 遍历前缀，避免 KEYS 阻塞服务端
func (r *RedisKV) ListKeys(ctx context.Context) ([]string, error) {
	var out []string
	it := r.rc.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	for it.Next(ctx) {
		out = append(out, strings.TrimPrefix(it.Val(), r.prefix))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
