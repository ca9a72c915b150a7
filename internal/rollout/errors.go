package rollout

import (
	"errors"
	"fmt"
)

// ErrInterrupted marks host work abandoned because the rollout was
// cancelled. Hosts settling with this error are never rolled back.
var ErrInterrupted = errors.New("rollout interrupted")

// ExecutionError reports a failed restart command on one host.
type ExecutionError struct {
	HostID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("restart of host %s failed: %v", e.HostID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// HealthCheckError reports a host that restarted but did not verify
// healthy. Err carries the last probe error and is nil when probes ran
// but reported the service unhealthy.
type HealthCheckError struct {
	HostID  string
	Attempt int
	Err     error
}

func (e *HealthCheckError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("host %s failed health verification on attempt %d: %v", e.HostID, e.Attempt, e.Err)
	}
	return fmt.Sprintf("host %s failed health verification on attempt %d", e.HostID, e.Attempt)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// RollbackError reports a failed best-effort rollback. The host keeps its
// original failure as the terminal error; the rollback failure is logged.
type RollbackError struct {
	HostID string
	Err    error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of host %s failed: %v", e.HostID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
