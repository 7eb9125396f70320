// 包 config：从环境变量读取运行配置，未设置时使用默认值
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr    string
	APIBase string

	// 本地缓存后端：file | redis | memory
	CacheBackend string
	CacheDir     string
	CacheTTL     time.Duration

	SpotTTL          time.Duration
	SearchRadiusM    float64
	QueryLimit       int
	AbuseThreshold   int
	LegacyComments   bool
	SnapshotCounting bool

	GeoIPPath  string
	AdminToken string

	RateLimitEnabled bool
	RateLimitQPS     int

	TLSEnable bool
	TLSCert   string
	TLSKey    string
}

// Load：读取全部配置；数值解析失败时回退默认值
func Load() Config {
	return Config{
		Addr:             getenv("ADDR", ":8080"),
		APIBase:          getenv("API_BASE", "/api"),
		CacheBackend:     strings.ToLower(getenv("LOCAL_CACHE_BACKEND", "file")),
		CacheDir:         getenv("LOCAL_CACHE_DIR", filepath.Join("data", "localdb")),
		CacheTTL:         parseDur(getenv("CACHE_TTL", "5m"), 5*time.Minute),
		SpotTTL:          parseDur(getenv("SPOT_TTL", "2h"), 2*time.Hour),
		SearchRadiusM:    atof(getenv("SEARCH_RADIUS_M", "2000"), 2000),
		QueryLimit:       atoi(getenv("QUERY_LIMIT", "30"), 30),
		AbuseThreshold:   atoi(getenv("ABUSE_THRESHOLD", "10"), 10),
		LegacyComments:   getenv("COMMENT_LEGACY_VALUE_MATCH", "false") == "true",
		SnapshotCounting: getenv("ABUSE_SNAPSHOT_COUNTING", "false") == "true",
		GeoIPPath:        os.Getenv("GEOIP_CITY_PATH"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		RateLimitEnabled: os.Getenv("RATE_LIMIT_ENABLED") == "true",
		RateLimitQPS:     atoi(getenv("RATE_LIMIT_QPS", "200"), 200),
		TLSEnable:        os.Getenv("TLS_ENABLE") == "true",
		TLSCert:          getenv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKey:           getenv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func atof(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func parseDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
