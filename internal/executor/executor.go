// Package executor provides the transports a rollout uses to restart
// services on hosts and, when supported, to roll them back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// Executor types selectable from configuration.
const (
	TypeShell  = "shell"
	TypeDocker = "docker"
)

// ErrRollbackUnsupported is returned when a host has no rollback target
// configured. The coordinator treats it like any other rollback failure:
// logged, never fatal.
var ErrRollbackUnsupported = errors.New("rollback not configured for host")

// RemoteExecutor runs restart and rollback actions against a single host.
// Implementations own the connection details carried in Host.Conn.
type RemoteExecutor interface {
	// Restart restarts the host's service. A nil return means the restart
	// command was accepted and completed.
	Restart(ctx context.Context, host *model.Host) error

	// Rollback reverts the host to its previous known-good state. It is
	// invoked best-effort after a host exhausts its retries.
	Rollback(ctx context.Context, host *model.Host) error
}

// ConnectionLimiter is implemented by executors whose transport cannot
// sustain unlimited concurrent connections. The rollout bounds in-batch
// concurrency to the advertised ceiling.
type ConnectionLimiter interface {
	MaxConnections() int
}

// Config selects and tunes an executor.
type Config struct {
	Type            string        `json:"type" mapstructure:"type"`
	RestartCommand  string        `json:"restart_command" mapstructure:"restart_command"`
	RollbackCommand string        `json:"rollback_command" mapstructure:"rollback_command"`
	CommandTimeout  time.Duration `json:"command_timeout" mapstructure:"command_timeout"`
	StopTimeout     time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
}

// New builds the executor named by cfg.Type.
func New(cfg Config, logger *zap.Logger) (RemoteExecutor, error) {
	switch cfg.Type {
	case "", TypeShell:
		return NewShellExecutor(cfg, logger), nil
	case TypeDocker:
		return NewDockerExecutor(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown executor type %q", cfg.Type)
	}
}
