package config

import (
	"errors"
	"strings"
	"time"

	platformconfig "github.com/example/lecture-platform/internal/platform/config"
)

type ProgressConfig struct {
	JWTSecret   []byte
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	GRPCAddr    string
	CatalogFile string
	CacheTTL    time.Duration
	// IdempotencyTTL bounds how long ingested event ids are remembered.
	IdempotencyTTL time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	WorkerEnabled  bool
}

func LoadProgress() (ProgressConfig, error) {
	v := platformconfig.NewEnv()
	v.SetDefault("grpc_addr", ":9096")
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("worker_enabled", true)

	secret := strings.TrimSpace(v.GetString("jwt_secret"))
	if secret == "" {
		return ProgressConfig{}, errors.New("JWT_SECRET is required")
	}
	cfg := ProgressConfig{
		JWTSecret:      []byte(secret),
		DatabaseURL:    strings.TrimSpace(v.GetString("database_url")),
		RedisURL:       strings.TrimSpace(v.GetString("redis_url")),
		NATSURL:        strings.TrimSpace(v.GetString("nats_url")),
		GRPCAddr:       strings.TrimSpace(v.GetString("grpc_addr")),
		CatalogFile:    strings.TrimSpace(v.GetString("catalog_file")),
		CacheTTL:       v.GetDuration("cache_ttl"),
		IdempotencyTTL: v.GetDuration("idempotency_ttl"),
		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),
		WorkerEnabled:  v.GetBool("worker_enabled"),
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}
	return cfg, nil
}
