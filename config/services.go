package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the translation queue worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the stale-job reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid and
// returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: worker, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains translation worker configuration.
type WorkerConfig struct {
	// RetryLimit is the number of retries per field after the first attempt.
	RetryLimit int `env:"WORKER_RETRY_LIMIT" envDefault:"3"`

	// TransientBackoff is the wait before retrying a generic field failure.
	TransientBackoff time.Duration `env:"WORKER_TRANSIENT_BACKOFF" envDefault:"5s"`

	// RateLimitBackoff is the wait before retrying a rate-limited field.
	RateLimitBackoff time.Duration `env:"WORKER_RATE_LIMIT_BACKOFF" envDefault:"30s"`

	// LockTTL is the worker lock expiry. The heartbeat renews the lock at
	// a third of this interval; a crashed worker frees it by expiry.
	LockTTL time.Duration `env:"WORKER_LOCK_TTL" envDefault:"10m"`

	// LockRetries bounds lock acquisition attempts on startup.
	LockRetries int `env:"WORKER_LOCK_RETRIES" envDefault:"3"`

	// LockRetryDelay is the wait between lock acquisition attempts.
	LockRetryDelay time.Duration `env:"WORKER_LOCK_RETRY_DELAY" envDefault:"5s"`

	// PollInterval bounds the idle wait when no queue notification arrives.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.RetryLimit < 0 {
		w.RetryLimit = 0
	}
	if w.TransientBackoff < time.Second {
		w.TransientBackoff = time.Second
	}
	if w.RateLimitBackoff < w.TransientBackoff {
		w.RateLimitBackoff = w.TransientBackoff
	}
	if w.LockTTL < time.Minute {
		w.LockTTL = time.Minute
	}
	if w.LockRetries < 1 {
		w.LockRetries = 1
	}
	if w.LockRetryDelay < time.Second {
		w.LockRetryDelay = time.Second
	}
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
}

// ReaperConfig contains stale-job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StuckAfter is how long a job may sit in processing before it is
	// reclassified as timed out. Ties to the worker lock TTL: a crashed
	// worker's jobs become reapable once this window elapses.
	StuckAfter time.Duration `env:"REAPER_STUCK_AFTER" envDefault:"30m"`

	// ReportMaxAge is the maximum age for report ledger rows before deletion.
	ReportMaxAge time.Duration `env:"REAPER_REPORT_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.StuckAfter < 5*time.Minute {
		r.StuckAfter = 5 * time.Minute
	}
	if r.ReportMaxAge < 24*time.Hour {
		r.ReportMaxAge = 24 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
