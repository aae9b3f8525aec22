package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database, Redis and variant-cache configuration
//   - services.go: Service mode, worker and reaper configuration
//   - providers.go: LLM provider credentials and HTTP behaviour
//   - observability.go: Logging configuration
type AppConfig struct {
	// IsDev controls development mode behavior (relaxed validation, text logs).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: worker, reaper.
	Services string `env:"SERVICES" envDefault:"worker,reaper"`

	// JobID switches the process into inline single-job mode: the given
	// job is processed synchronously and the process exits. The queue
	// drain loop and the reaper are skipped in this mode.
	JobID string `env:"SIMPLIFY_JOB_ID"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// VariantCache configures the in-process variant config cache.
	VariantCache VariantCacheConfig

	// Worker configuration
	Worker WorkerConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Providers configuration
	Providers ProvidersConfig

	// Logging configuration
	Logging LoggingConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Reaper.Sanitize()
	c.Providers.Sanitize()
	c.Logging.Sanitize()
	c.VariantCache.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks the ENV variable as a fallback for DEV=true.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		env := strings.ToLower(os.Getenv("ENV"))
		c.IsDev = env == "development" || env == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
