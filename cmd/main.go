// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"spot-api/internal/api"
	"spot-api/internal/config"
	"spot-api/internal/discovery"
	"spot-api/internal/iplocate"
	"spot-api/internal/localdb"
	"spot-api/internal/logger"
	"spot-api/internal/metrics"
	"spot-api/internal/middleware"
	"spot-api/internal/migrate"
	"spot-api/internal/moderation"
	"spot-api/internal/spot"
	"spot-api/internal/store"
	"spot-api/internal/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.Load()
	l.Debug("config_loaded", "api_base", cfg.APIBase, "cache_backend", cfg.CacheBackend, "radius_m", cfg.SearchRadiusM)

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	kv, closeKV, err := localdb.OpenBackend(cfg.CacheBackend, cfg.CacheDir)
	if err != nil {
		l.Error("cache_open_error", "backend", cfg.CacheBackend, "err", err)
		os.Exit(1)
	}
	defer closeKV()
	cache := localdb.NewTTLCache[[]spot.Spot](kv, cfg.CacheTTL)

	disc := discovery.New(st, cache, discovery.Options{Limit: cfg.QueryLimit, SpotTTL: cfg.SpotTTL})
	mod := moderation.New(st, moderation.Options{
		Threshold:        cfg.AbuseThreshold,
		ReportTTL:        cfg.SpotTTL,
		LegacyValueMatch: cfg.LegacyComments,
		SnapshotCounting: cfg.SnapshotCounting,
		OnRemoved: func(ctx context.Context, spotID string) {
			n := disc.Forget(ctx, spotID)
			l.Info("spot_removed_cache_evicted", "id", spotID, "entries", n)
		},
	})

	var loc *iplocate.Locator
	if cfg.GeoIPPath != "" {
		if loc, err = iplocate.Open(cfg.GeoIPPath); err != nil {
			l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
			loc = nil
		} else {
			defer loc.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 后台定期清理过期缓存条目，周期与缓存 TTL 一致
	go func() {
		t := time.NewTicker(cfg.CacheTTL)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := disc.Sweep(ctx); n > 0 {
					l.Debug("cache_sweep", "evicted", n)
				}
			}
		}
	}()

	apiMux := api.BuildRoutes(api.Deps{
		Discovery:      disc,
		Moderation:     mod,
		Locator:        loc,
		DefaultRadiusM: cfg.SearchRadiusM,
		AdminToken:     cfg.AdminToken,
	})
	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	var handler http.Handler = mux
	if cfg.RateLimitEnabled {
		handler = middleware.RateLimit(cfg.RateLimitQPS, handler)
	}
	handler = logger.AccessMiddleware(l)(handler)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCert, cfg.TLSKey, "spot-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCert)
		err = s.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
	}
}
