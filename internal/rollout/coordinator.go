package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/events"
	"github.com/fleetroll/fleetroll/internal/executor"
	"github.com/fleetroll/fleetroll/internal/health"
	"github.com/fleetroll/fleetroll/internal/model"
)

// Coordinator drives individual hosts through the restart state machine:
// restart, verify health, retry within the policy's budget, then settle in
// a terminal stage. It keeps no per-host state of its own and is safe to
// share across concurrent host goroutines.
type Coordinator struct {
	logger *zap.Logger
	exec   executor.RemoteExecutor
	health health.Checker
	events events.Publisher
}

// NewCoordinator creates a new restart coordinator. pub may be nil.
func NewCoordinator(exec executor.RemoteExecutor, checker health.Checker, pub events.Publisher, logger *zap.Logger) *Coordinator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Coordinator{
		logger: logger.Named("coordinator"),
		exec:   exec,
		health: checker,
		events: pub,
	}
}

// Process drives one host until it reaches a terminal stage. A host already
// in a terminal stage is left untouched and no executor or checker call is
// made for it. Cancelling ctx stops new attempts and in-flight calls
// immediately; rollouts run under a Controller get a bounded grace period
// instead.
func (c *Coordinator) Process(ctx context.Context, st *model.HostState, policy model.RolloutPolicy) error {
	return c.run(ctx, ctx.Done(), st, policy)
}

// run is the state machine loop. ctx bounds in-flight executor and checker
// calls; soft signals that the rollout is cancelled and no new attempt or
// retry pause may begin.
func (c *Coordinator) run(ctx context.Context, soft <-chan struct{}, st *model.HostState, policy model.RolloutPolicy) error {
	if st.Terminal() {
		return nil
	}

	host := st.Host
	var lastErr error

	for {
		if stopRequested(ctx, soft) {
			return c.fail(ctx, st, policy, interruption(host, lastErr))
		}

		// First pass enters from Pending; retries re-enter from
		// Restarting or AwaitingHealth with the failure that caused them.
		if err := st.Transition(model.StageRestarting, lastErr); err != nil {
			return err
		}
		c.emit(st)
		c.logger.Info("Restarting host",
			zap.String("host", host.ID),
			zap.Int("attempt", st.Attempt))

		if err := c.exec.Restart(ctx, host); err != nil {
			lastErr = &ExecutionError{HostID: host.ID, Err: err}
			c.logger.Warn("Restart failed",
				zap.String("host", host.ID),
				zap.Int("attempt", st.Attempt),
				zap.Error(err))

			if st.Attempt >= policy.MaxRetries {
				return c.fail(ctx, st, policy, lastErr)
			}
			st.Attempt++
			if !c.pause(ctx, soft, policy.RetryDelay) {
				return c.fail(ctx, st, policy, interruption(host, lastErr))
			}
			continue
		}

		if err := st.Transition(model.StageAwaitingHealth, nil); err != nil {
			return err
		}
		c.emit(st)

		healthy, probeErr := c.probe(ctx, host, policy.HealthCheckTimeout)
		if healthy {
			if err := st.Transition(model.StageHealthy, nil); err != nil {
				return err
			}
			c.emit(st)
			c.logger.Info("Host healthy",
				zap.String("host", host.ID),
				zap.Int("attempt", st.Attempt))
			return nil
		}

		lastErr = &HealthCheckError{HostID: host.ID, Attempt: st.Attempt, Err: probeErr}
		c.logger.Warn("Health verification failed",
			zap.String("host", host.ID),
			zap.Int("attempt", st.Attempt),
			zap.Error(probeErr))

		if st.Attempt >= policy.MaxRetries {
			return c.fail(ctx, st, policy, lastErr)
		}
		st.Attempt++
		if !c.pause(ctx, soft, policy.RetryDelay) {
			return c.fail(ctx, st, policy, interruption(host, lastErr))
		}
	}
}

// fail settles the host in Failed, then attempts the best-effort rollback
// when the policy asks for one. Interrupted hosts are never rolled back,
// and a failed rollback never changes the terminal stage.
func (c *Coordinator) fail(ctx context.Context, st *model.HostState, policy model.RolloutPolicy, cause error) error {
	if err := st.Transition(model.StageFailed, cause); err != nil {
		return err
	}
	c.emit(st)
	c.logger.Error("Host failed",
		zap.String("host", st.Host.ID),
		zap.Int("attempt", st.Attempt),
		zap.Error(cause))

	if !policy.RollbackOnFailure || errors.Is(cause, ErrInterrupted) {
		return nil
	}

	if err := c.exec.Rollback(ctx, st.Host); err != nil {
		if errors.Is(err, executor.ErrRollbackUnsupported) {
			c.logger.Debug("Rollback not supported", zap.String("host", st.Host.ID))
			return nil
		}
		c.logger.Error("Rollback failed",
			zap.String("host", st.Host.ID),
			zap.Error(&RollbackError{HostID: st.Host.ID, Err: err}))
		return nil
	}

	if err := st.Transition(model.StageRolledBack, nil); err != nil {
		return err
	}
	c.emit(st)
	c.logger.Info("Host rolled back", zap.String("host", st.Host.ID))
	return nil
}

// probe runs a single health verification bounded by the policy's timeout.
func (c *Coordinator) probe(ctx context.Context, host *model.Host, timeout time.Duration) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.health.Check(probeCtx, host)
}

// pause sleeps the retry delay for one host. It returns false when
// cancellation arrived during the pause.
func (c *Coordinator) pause(ctx context.Context, soft <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-soft:
		return false
	case <-ctx.Done():
		return false
	}
}

// emit publishes the host's most recent stage transition.
func (c *Coordinator) emit(st *model.HostState) {
	last := st.History[len(st.History)-1]
	c.events.Publish(events.Event{
		Type:      events.TypeHostTransition,
		HostID:    st.Host.ID,
		Group:     st.Host.Group(),
		From:      last.From,
		To:        last.To,
		Attempt:   st.Attempt,
		Error:     last.Error,
		Timestamp: last.At,
	})
}

func stopRequested(ctx context.Context, soft <-chan struct{}) bool {
	select {
	case <-soft:
		return true
	default:
	}
	return ctx.Err() != nil
}

func interruption(host *model.Host, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("host %s: %w (last error: %v)", host.ID, ErrInterrupted, lastErr)
	}
	return fmt.Errorf("host %s: %w", host.ID, ErrInterrupted)
}
