package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"simplify"`
	Password string `env:"PASSWORD" envDefault:"simplify"`
	Name     string `env:"NAME"     envDefault:"simplify"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the worker lock.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// VariantCacheConfig configures the in-process read-through cache for
// variant config documents.
type VariantCacheConfig struct {
	// SizeBytes is the in-memory cache capacity.
	SizeBytes int `env:"VARIANT_CACHE_SIZE" envDefault:"10485760"` // 10 MiB

	// TTL is how long a cached variant config is served before re-read.
	TTL time.Duration `env:"VARIANT_CACHE_TTL" envDefault:"60s"`
}

// Sanitize applies guardrails to variant cache configuration values.
func (c *VariantCacheConfig) Sanitize() {
	// freecache requires at least 512 KiB.
	if c.SizeBytes < 512*1024 {
		c.SizeBytes = 512 * 1024
	}
	if c.TTL < time.Second {
		c.TTL = time.Second
	}
}
