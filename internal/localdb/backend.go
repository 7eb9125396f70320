package localdb

import (
	"fmt"

	"spot-api/internal/logger"
	"spot-api/internal/utils"
)

// OpenBackend：按名称选择缓存后端（file | redis | memory）；redis 不可用时回退到文件后端
// 返回的 closer 总是非 nil
func OpenBackend(backend, dir string) (KV, func(), error) {
	noop := func() {}
	switch backend {
	case "memory":
		return NewMemKV(), noop, nil
	case "redis":
		if rc := utils.OpenRedisFromEnv(); rc != nil {
			return NewRedisKV(rc, "spots:localdb:"), func() { _ = rc.Close() }, nil
		}
		logger.L().Warn("cache_backend_fallback", "from", "redis", "to", "file")
		fallthrough
	case "file", "":
		kv, err := NewFileKV(dir)
		if err != nil {
			return nil, noop, err
		}
		return kv, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown cache backend %q", backend)
}
