package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/hydromet-edr/internal/common"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	// Sources lists the enabled collections.
	Sources []string `validate:"min=1,dive,oneof=rise snotel awdb-forecasts"`

	RISEBaseURL string `validate:"required,url"`
	AWDBBaseURL string `validate:"required,url"`

	// Cache backend and entry lifetime.
	CacheBackend    string        `validate:"oneof=memory redis postgres"`
	CacheTTL        time.Duration `validate:"gt=0"`
	CacheMaxEntries int           `validate:"min=0"` // memory backend only (0 = unlimited)
	RedisAddr       string        `validate:"required_if=CacheBackend redis"`
	RedisDB         int           `validate:"min=0"`
	DatabaseURL     string        `validate:"required_if=CacheBackend postgres"`

	// Upstream HTTP behaviour.
	HTTPTimeout        time.Duration `validate:"gt=0"`
	UpstreamRPS        float64       `validate:"min=0"`
	UpstreamBurst      int           `validate:"min=0"`
	UpstreamMaxRetries int           `validate:"min=0"`

	// WarmInterval controls periodic cache warming (0 = disabled).
	WarmInterval time.Duration `validate:"min=0"`

	// PageSize is the itemsPerPage requested from paginated upstreams.
	PageSize int `validate:"min=1,max=1000"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Sources = common.SplitList(getenvDefault("SOURCES", "rise,snotel,awdb-forecasts"))
	cfg.RISEBaseURL = getenvDefault("RISE_BASE_URL", "https://data.usbr.gov")
	cfg.AWDBBaseURL = getenvDefault("AWDB_BASE_URL", "https://wcc.sc.egov.usda.gov")

	cfg.CacheBackend = getenvDefault("CACHE_BACKEND", "memory")
	cfg.CacheMaxEntries = getenvInt("CACHE_MAX_ENTRIES", 0)
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	var err error
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.WarmInterval, err = getenvDuration("WARM_INTERVAL", "0"); err != nil {
		return nil, err
	}

	cfg.UpstreamRPS = getenvFloat("UPSTREAM_RPS", 20)
	cfg.UpstreamBurst = getenvInt("UPSTREAM_BURST", 40)
	cfg.UpstreamMaxRetries = getenvInt("UPSTREAM_MAX_RETRIES", 3)
	cfg.PageSize = getenvInt("PAGE_SIZE", 100)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
