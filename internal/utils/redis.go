// 包 utils：外部连接工具（Redis / PostgreSQL / TLS 证书），统一环境变量读取
package utils

import (
	"context"
	"os"
	"strconv"
	"time"

	"spot-api/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedisFromEnv：从 REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB 打开客户端并探活
// 约束：REDIS_DB 解析失败时回退到 0；探活失败返回 nil，调用方降级为文件缓存
func OpenRedisFromEnv() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	addr := host + ":" + port
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.L().Error("redis_ping_error", "addr", addr, "err", err)
		_ = rc.Close()
		return nil
	}
	logger.L().Info("redis_ping_ok", "addr", addr, "db", db)
	return rc
}
