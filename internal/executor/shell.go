package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// ShellExecutor restarts services by rendering a command template per host
// and running it through the local shell. Pointing the template at the ssh
// binary ("ssh {user}@{address} systemctl restart {service}") turns it into
// a remote transport without this package knowing anything about SSH.
type ShellExecutor struct {
	logger      *zap.Logger
	restartCmd  string
	rollbackCmd string
	timeout     time.Duration
	maxConns    int
}

// NewShellExecutor creates a shell-backed executor.
func NewShellExecutor(cfg Config, logger *zap.Logger) *ShellExecutor {
	return &ShellExecutor{
		logger:      logger.Named("shell-executor"),
		restartCmd:  cfg.RestartCommand,
		rollbackCmd: cfg.RollbackCommand,
		timeout:     cfg.CommandTimeout,
		maxConns:    cfg.MaxConnections,
	}
}

// Restart runs the rendered restart command for the host.
func (e *ShellExecutor) Restart(ctx context.Context, host *model.Host) error {
	return e.run(ctx, host, e.restartCmd, "restart")
}

// Rollback runs the rendered rollback command, if one is configured.
func (e *ShellExecutor) Rollback(ctx context.Context, host *model.Host) error {
	if e.rollbackCmd == "" {
		return ErrRollbackUnsupported
	}
	return e.run(ctx, host, e.rollbackCmd, "rollback")
}

// MaxConnections reports the configured connection ceiling; zero means
// unlimited.
func (e *ShellExecutor) MaxConnections() int {
	return e.maxConns
}

func (e *ShellExecutor) run(ctx context.Context, host *model.Host, tmpl, action string) error {
	if tmpl == "" {
		return fmt.Errorf("no %s command configured", action)
	}

	cmdCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmdline := host.Expand(tmpl)
	e.logger.Info("Executing command",
		zap.String("host", host.ID),
		zap.String("action", action),
		zap.String("command", cmdline))

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", cmdline)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s command timed out on %s after %s", action, host.ID, e.timeout)
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			return fmt.Errorf("%s command failed on %s: %w", action, host.ID, err)
		}
		return fmt.Errorf("%s command failed on %s: %s: %w", action, host.ID, msg, err)
	}

	e.logger.Debug("Command completed",
		zap.String("host", host.ID),
		zap.String("action", action))
	return nil
}
