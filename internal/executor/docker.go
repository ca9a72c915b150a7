package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// DockerExecutor restarts services running as containers through the Docker
// Engine API. The container name comes from the host's "container"
// connection variable, defaulting to the host ID. Rollback starts the
// standby container named by "rollback_container".
type DockerExecutor struct {
	logger      *zap.Logger
	cli         *client.Client
	stopTimeout time.Duration
	maxConns    int
}

// NewDockerExecutor creates an executor bound to the Docker daemon from the
// environment (DOCKER_HOST et al).
func NewDockerExecutor(cfg Config, logger *zap.Logger) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerExecutor{
		logger:      logger.Named("docker-executor"),
		cli:         cli,
		stopTimeout: cfg.StopTimeout,
		maxConns:    cfg.MaxConnections,
	}, nil
}

// Restart restarts the host's container.
func (e *DockerExecutor) Restart(ctx context.Context, host *model.Host) error {
	name := host.Var("container", host.ID)

	opts := container.StopOptions{}
	if e.stopTimeout > 0 {
		secs := int(e.stopTimeout.Seconds())
		opts.Timeout = &secs
	}

	e.logger.Info("Restarting container",
		zap.String("host", host.ID),
		zap.String("container", name))

	if err := e.cli.ContainerRestart(ctx, name, opts); err != nil {
		if tail := e.logTail(ctx, name); tail != "" {
			e.logger.Warn("Container output before failed restart",
				zap.String("host", host.ID),
				zap.String("container", name),
				zap.String("tail", tail))
		}
		return fmt.Errorf("failed to restart container %s: %w", name, err)
	}
	return nil
}

// Rollback starts the host's standby container, when one is configured.
func (e *DockerExecutor) Rollback(ctx context.Context, host *model.Host) error {
	standby := host.Var("rollback_container", "")
	if standby == "" {
		return ErrRollbackUnsupported
	}

	e.logger.Info("Starting rollback container",
		zap.String("host", host.ID),
		zap.String("container", standby))

	if err := e.cli.ContainerStart(ctx, standby, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start rollback container %s: %w", standby, err)
	}
	return nil
}

// MaxConnections reports the configured ceiling for concurrent daemon
// connections; zero means unlimited.
func (e *DockerExecutor) MaxConnections() int {
	return e.maxConns
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	return e.cli.Close()
}
