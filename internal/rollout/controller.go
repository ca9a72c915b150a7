package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/events"
	"github.com/fleetroll/fleetroll/internal/executor"
	"github.com/fleetroll/fleetroll/internal/health"
	"github.com/fleetroll/fleetroll/internal/model"
	"github.com/fleetroll/fleetroll/internal/planner"
)

const saveTimeout = 10 * time.Second

// Store persists completed rollout results.
type Store interface {
	Save(ctx context.Context, result *model.RolloutResult) error
}

// Controller runs rollouts end to end: validate the policy, plan batches,
// fan each batch out across host goroutines, enforce the batch barrier and
// failure threshold, and assemble the final result.
type Controller struct {
	logger *zap.Logger
	exec   executor.RemoteExecutor
	health health.Checker
	events events.Publisher
	store  Store
}

// NewController creates a new rollout controller. pub and store may be nil.
func NewController(exec executor.RemoteExecutor, checker health.Checker, pub events.Publisher, store Store, logger *zap.Logger) *Controller {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Controller{
		logger: logger.Named("controller"),
		exec:   exec,
		health: checker,
		events: pub,
		store:  store,
	}
}

// Run executes one rollout over hosts. The returned error is non-nil only
// when the policy or host set is invalid; every per-host failure is
// captured in the result instead. Cancelling ctx stops new work
// immediately, grants in-flight host work the policy's grace period, and
// marks the rollout aborted.
func (c *Controller) Run(ctx context.Context, hosts []*model.Host, policy model.RolloutPolicy) (*model.RolloutResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	batches, err := planner.Plan(hosts, policy)
	if err != nil {
		return nil, err
	}

	rolloutID := uuid.New().String()
	startedAt := time.Now()
	logger := c.logger.With(zap.String("rollout_id", rolloutID))

	logger.Info("Rollout started",
		zap.Int("hosts", len(hosts)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", policy.BatchSize))
	c.events.Publish(events.Event{
		RolloutID: rolloutID,
		Type:      events.TypeRolloutStarted,
		Timestamp: startedAt,
	})

	states := make([][]*model.HostState, len(batches))
	for i, batch := range batches {
		states[i] = make([]*model.HostState, len(batch.Hosts))
		for j, host := range batch.Hosts {
			states[i][j] = model.NewHostState(host)
		}
	}

	// Host work is detached from ctx so cancellation can grant it a
	// bounded grace period before force-terminating.
	hostCtx, hardCancel := context.WithCancel(context.Background())
	defer hardCancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(policy.Grace())
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			logger.Warn("Cancellation grace period expired, terminating host work")
			hardCancel()
		}
	}()

	limit := 0
	if lim, ok := c.exec.(executor.ConnectionLimiter); ok {
		limit = lim.MaxConnections()
	}

	aborted := false
	abortReason := ""
	skipped := make(map[string]bool)

	for i, batch := range batches {
		if !aborted && ctx.Err() != nil {
			aborted = true
			abortReason = "rollout cancelled"
		}
		if aborted {
			for _, st := range states[i] {
				skipped[st.Host.ID] = true
			}
			continue
		}

		c.events.Publish(events.Event{
			RolloutID: rolloutID,
			Type:      events.TypeBatchStarted,
			Batch:     batch.Index,
			Group:     batch.Group,
			Timestamp: time.Now(),
		})
		logger.Info("Batch started",
			zap.Int("batch", batch.Index),
			zap.String("group", batch.Group),
			zap.Int("hosts", len(batch.Hosts)))

		c.runBatch(hostCtx, ctx.Done(), rolloutID, batch, states[i], policy, limit, logger)

		failed := 0
		for _, st := range states[i] {
			if st.Stage == model.StageFailed || st.Stage == model.StageRolledBack {
				failed++
			}
		}
		rate := float64(failed) / float64(len(batch.Hosts))

		c.events.Publish(events.Event{
			RolloutID: rolloutID,
			Type:      events.TypeBatchCompleted,
			Batch:     batch.Index,
			Group:     batch.Group,
			Timestamp: time.Now(),
		})
		logger.Info("Batch completed",
			zap.Int("batch", batch.Index),
			zap.String("group", batch.Group),
			zap.Int("failed", failed),
			zap.Float64("failure_rate", rate))

		if ctx.Err() != nil {
			aborted = true
			abortReason = "rollout cancelled"
		} else if rate > policy.FailureThreshold {
			aborted = true
			abortReason = fmt.Sprintf("batch %d failure rate %.2f exceeded threshold %.2f",
				batch.Index, rate, policy.FailureThreshold)
			logger.Error("Rollout aborted",
				zap.Int("batch", batch.Index),
				zap.Float64("failure_rate", rate),
				zap.Float64("threshold", policy.FailureThreshold))
		}
	}

	result := &model.RolloutResult{
		ID:          rolloutID,
		StartedAt:   startedAt,
		Aborted:     aborted,
		AbortReason: abortReason,
	}
	for i := range states {
		for _, st := range states[i] {
			hr := st.Snapshot()
			hr.Skipped = skipped[st.Host.ID]
			switch st.Stage {
			case model.StageHealthy:
				result.Healthy++
			case model.StageFailed:
				result.Failed++
			case model.StageRolledBack:
				result.RolledBack++
			}
			if hr.Skipped {
				result.Skipped++
			}
			result.Hosts = append(result.Hosts, hr)
		}
	}
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startedAt)

	eventType := events.TypeRolloutCompleted
	if aborted {
		eventType = events.TypeRolloutAborted
	}
	c.events.Publish(events.Event{
		RolloutID: rolloutID,
		Type:      eventType,
		Error:     abortReason,
		Timestamp: result.CompletedAt,
	})
	logger.Info("Rollout completed",
		zap.Int("healthy", result.Healthy),
		zap.Int("failed", result.Failed),
		zap.Int("rolled_back", result.RolledBack),
		zap.Int("skipped", result.Skipped),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.Duration))

	if c.store != nil {
		// Persist on a fresh context so cancelled rollouts still get saved.
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := c.store.Save(saveCtx, result); err != nil {
			logger.Error("Failed to persist rollout result", zap.Error(err))
		}
	}

	return result, nil
}

// runBatch fans one batch out to per-host goroutines and waits for all of
// them to settle. In-batch concurrency is capped by the executor's
// connection ceiling when it advertises one.
func (c *Controller) runBatch(hostCtx context.Context, soft <-chan struct{}, rolloutID string, batch model.Batch, states []*model.HostState, policy model.RolloutPolicy, limit int, logger *zap.Logger) {
	pub := &events.Scoped{RolloutID: rolloutID, Batch: batch.Index, Inner: c.events}
	coord := NewCoordinator(c.exec, c.health, pub, logger)

	var sem chan struct{}
	if limit > 0 && limit < len(states) {
		sem = make(chan struct{}, limit)
	}

	var wg sync.WaitGroup
	for _, st := range states {
		wg.Add(1)
		go func(st *model.HostState) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			if err := coord.run(hostCtx, soft, st, policy); err != nil {
				logger.Error("Host processing error",
					zap.String("host", st.Host.ID),
					zap.Error(err))
			}
		}(st)
	}
	wg.Wait()
}
