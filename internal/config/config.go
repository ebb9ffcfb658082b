package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory = "memory"
	StoreS3     = "s3"
	StoreRedis  = "redis"
)

type Config struct {
	ListenAddr             string   `env:"NEWT_LISTEN_ADDR" envDefault:":8080"`
	OriginURL              string   `env:"NEWT_ORIGIN_URL"`
	CachePrefix            string   `env:"NEWT_CACHE_PREFIX" envDefault:"newt-tracker"`
	CacheVersion           int      `env:"NEWT_CACHE_VERSION" envDefault:"1"`
	Manifest               []string `env:"NEWT_MANIFEST" envSeparator:"," envDefault:"/,/favicon.ico,/icons/icon-192x192.png,/icons/icon-512x512.png"`
	Store                  string   `env:"NEWT_STORE" envDefault:"memory"`
	RedisAddr              string   `env:"NEWT_REDIS_ADDR"`
	RedisDB                int      `env:"NEWT_REDIS_DB" envDefault:"0"`
	RedisPassword          string   `env:"NEWT_REDIS_PASSWORD"`
	S3Endpoint             string   `env:"NEWT_S3_ENDPOINT"`
	S3Region               string   `env:"NEWT_S3_REGION"`
	S3Bucket               string   `env:"NEWT_S3_BUCKET"`
	S3AccessKey            string   `env:"NEWT_S3_ACCESS_KEY"`
	S3SecretKey            string   `env:"NEWT_S3_SECRET_KEY"`
	S3Prefix               string   `env:"NEWT_S3_PREFIX" envDefault:"newt-cache"`
	LockTTLSeconds         int      `env:"NEWT_LOCK_TTL_SECONDS" envDefault:"30"`
	MaxLockWaitSeconds     int      `env:"NEWT_MAX_LOCK_WAIT_SECONDS" envDefault:"10"`
	UpstreamTimeoutSeconds int      `env:"NEWT_UPSTREAM_TIMEOUT_SECONDS" envDefault:"0"`
	MaxObjectBytes         int64    `env:"NEWT_MAX_OBJECT_BYTES" envDefault:"8388608"`
}

// Load reads the configuration from NEWT_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Manifest = cleanManifest(cfg.Manifest)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.OriginURL == "" {
		return errors.New("NEWT_ORIGIN_URL is required")
	}
	u, err := url.Parse(c.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("NEWT_ORIGIN_URL %q is not an absolute URL", c.OriginURL)
	}
	if strings.TrimSpace(c.CachePrefix) == "" {
		return errors.New("NEWT_CACHE_PREFIX is required")
	}
	if c.CacheVersion <= 0 {
		return errors.New("NEWT_CACHE_VERSION must be positive")
	}
	if c.MaxObjectBytes <= 0 {
		return errors.New("NEWT_MAX_OBJECT_BYTES must be positive")
	}
	if len(c.Manifest) == 0 {
		return errors.New("NEWT_MANIFEST must list at least one path")
	}
	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("manifest path %q must start with /", p)
		}
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("NEWT_REDIS_ADDR is required for the redis store")
		}
	case StoreS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.New("S3 endpoint/bucket/access/secret are required for the s3 store")
		}
		if strings.Trim(c.S3Prefix, "/") == "" {
			return errors.New("NEWT_S3_PREFIX must not be empty; the bucket root is shared")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// CacheName is the versioned name of the current cache store. Bumping
// CacheVersion is the only way to invalidate every cached asset.
func (c Config) CacheName() string {
	return fmt.Sprintf("%s-v%d", c.CachePrefix, c.CacheVersion)
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c Config) MaxLockWait() time.Duration {
	return time.Duration(c.MaxLockWaitSeconds) * time.Second
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

func cleanManifest(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
