// 离线工具：清理本地缓存中的过期条目；-all 时清空全部
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"spot-api/internal/config"
	"spot-api/internal/localdb"
	"spot-api/internal/logger"
	"spot-api/internal/spot"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	all := flag.Bool("all", false, "clear every entry instead of only expired ones")
	flag.Parse()
	l := logger.Setup()
	cfg := config.Load()
	kv, closeKV, err := localdb.OpenBackend(cfg.CacheBackend, cfg.CacheDir)
	if err != nil {
		l.Error("cache_open_error", "backend", cfg.CacheBackend, "err", err)
		os.Exit(1)
	}
	defer closeKV()
	cache := localdb.NewTTLCache[[]spot.Spot](kv, cfg.CacheTTL)
	ctx := context.Background()
	if *all {
		cache.Clear(ctx)
		l.Info("cache_cleared", "backend", cfg.CacheBackend)
		return
	}
	n := cache.Sweep(ctx)
	l.Info("cache_swept", "backend", cfg.CacheBackend, "evicted", n)
}
