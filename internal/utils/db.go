package utils

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"time"

	"spot-api/internal/logger"

	_ "github.com/lib/pq"
)

// PGConfig：PostgreSQL 连接参数，来自 PG_* 环境变量
type PGConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DB       string
	SSLMode  string
	MaxOpen  int
	MaxIdle  int
	MaxLife  time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

// PGConfigFromEnv：每次附近检索最多并发 9 段范围查询，连接池默认值按此预留
func PGConfigFromEnv() PGConfig {
	life, err := time.ParseDuration(os.Getenv("PG_CONN_MAX_LIFETIME"))
	if err != nil || life <= 0 {
		life = 30 * time.Minute
	}
	return PGConfig{
		Host:     envOr("PG_HOST", "localhost"),
		Port:     envOr("PG_PORT", "5432"),
		User:     envOr("PG_USER", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		DB:       envOr("PG_DB", "spots"),
		SSLMode:  envOr("PG_SSLMODE", "disable"),
		MaxOpen:  envInt("PG_MAX_OPEN_CONNS", 50),
		MaxIdle:  envInt("PG_MAX_IDLE_CONNS", 25),
		MaxLife:  life,
	}
}

// DSN：口令经 URL 编码，允许包含 @ / : 等字符
func (c PGConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DB,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// OpenPostgresFromEnv：打开连接池并在 5 秒内探活；探活失败只记录日志，由调用方决定是否继续
func OpenPostgresFromEnv() (*sql.DB, error) {
	c := PGConfigFromEnv()
	db, err := sql.Open("postgres", c.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpen)
	db.SetMaxIdleConns(c.MaxIdle)
	db.SetConnMaxLifetime(c.MaxLife)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.L().Error("db_ping_error", "host", c.Host, "db", c.DB, "err", err)
	} else {
		logger.L().Info("db_ping_ok", "host", c.Host, "db", c.DB)
	}
	return db, nil
}
