package model

import "time"

// DefaultCancelGrace bounds how long in-flight host work may keep running
// after the rollout is cancelled.
const DefaultCancelGrace = 10 * time.Second

// RolloutPolicy holds the knobs governing a single rollout. It is loaded
// once at rollout start and never mutated afterwards; sharing it across
// host goroutines is safe.
type RolloutPolicy struct {
	// BatchSize is the maximum number of hosts restarted concurrently.
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// MaxRetries bounds how many times a host's restart+verify cycle is
	// re-attempted after the first failure.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// RetryDelay is the pause before re-attempting a failed cycle. It
	// suspends only the failing host's goroutine.
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`

	// HealthCheckTimeout bounds a single health probe.
	HealthCheckTimeout time.Duration `json:"health_check_timeout" mapstructure:"health_check_timeout"`

	// FailureThreshold is the fraction of a batch's hosts allowed to end
	// Failed or RolledBack before the rollout stops dispatching batches.
	FailureThreshold float64 `json:"failure_threshold" mapstructure:"failure_threshold"`

	// RollbackOnFailure makes the coordinator attempt a best-effort
	// rollback once a host exhausts its retries.
	RollbackOnFailure bool `json:"rollback_on_failure" mapstructure:"rollback_on_failure"`

	// CancelGrace is the window cancelled host work gets to reach a
	// terminal stage before being force-terminated. Zero selects
	// DefaultCancelGrace.
	CancelGrace time.Duration `json:"cancel_grace,omitempty" mapstructure:"cancel_grace"`
}

// Validate checks the policy before any host is touched.
func (p RolloutPolicy) Validate() error {
	if p.BatchSize < 1 {
		return &ConfigError{Field: "batch_size", Reason: "must be at least 1"}
	}
	if p.MaxRetries < 0 {
		return &ConfigError{Field: "max_retries", Reason: "must not be negative"}
	}
	if p.RetryDelay < 0 {
		return &ConfigError{Field: "retry_delay", Reason: "must not be negative"}
	}
	if p.HealthCheckTimeout <= 0 {
		return &ConfigError{Field: "health_check_timeout", Reason: "must be positive"}
	}
	if p.FailureThreshold < 0 || p.FailureThreshold > 1 {
		return &ConfigError{Field: "failure_threshold", Reason: "must be within [0, 1]"}
	}
	if p.CancelGrace < 0 {
		return &ConfigError{Field: "cancel_grace", Reason: "must not be negative"}
	}
	return nil
}

// Grace returns the effective cancellation grace period.
func (p RolloutPolicy) Grace() time.Duration {
	if p.CancelGrace > 0 {
		return p.CancelGrace
	}
	return DefaultCancelGrace
}
