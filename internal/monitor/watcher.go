package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/events"
	"github.com/fleetroll/fleetroll/internal/model"
)

const defaultRetention = time.Hour

// RolloutStatus is the live aggregate a watcher keeps for one rollout.
type RolloutStatus struct {
	RolloutID    string    `json:"rollout_id"`
	StartedAt    time.Time `json:"started_at"`
	CurrentBatch int       `json:"current_batch"`
	Healthy      int       `json:"healthy"`
	Failed       int       `json:"failed"`
	RolledBack   int       `json:"rolled_back"`
	Completed    bool      `json:"completed"`
	Aborted      bool      `json:"aborted"`
	AbortReason  string    `json:"abort_reason,omitempty"`
	LastEvent    time.Time `json:"last_event"`
}

// Watcher follows rollout events published to JetStream and keeps live
// per-rollout aggregates, so operators can tail fleet activity from any
// process connected to the same broker.
type Watcher struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	retention time.Duration
	mu        sync.RWMutex
	rollouts  map[string]*RolloutStatus
	sub       *nats.Subscription
	stop      chan struct{}
}

// NewWatcher creates a new rollout watcher.
func NewWatcher(js nats.JetStreamContext, logger *zap.Logger) *Watcher {
	return &Watcher{
		logger:    logger.Named("watcher"),
		js:        js,
		retention: defaultRetention,
		rollouts:  make(map[string]*RolloutStatus),
		stop:      make(chan struct{}),
	}
}

// Start starts the watcher
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting rollout watcher")

	sub, err := w.js.Subscribe(events.SubjectWildcard(), w.handleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to rollout events: %w", err)
	}
	w.sub = sub

	go w.pruneLoop(ctx)

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.logger.Info("Stopping rollout watcher")
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			w.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	close(w.stop)
}

// handleEvent folds one rollout event into the aggregates
func (w *Watcher) handleEvent(msg *nats.Msg) {
	var event events.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.logger.Error("Failed to unmarshal rollout event", zap.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	status, ok := w.rollouts[event.RolloutID]
	if !ok {
		status = &RolloutStatus{
			RolloutID: event.RolloutID,
			StartedAt: event.Timestamp,
		}
		w.rollouts[event.RolloutID] = status
	}
	status.LastEvent = event.Timestamp

	switch event.Type {
	case events.TypeRolloutStarted:
		status.StartedAt = event.Timestamp

	case events.TypeBatchStarted:
		status.CurrentBatch = event.Batch

	case events.TypeHostTransition:
		switch event.To {
		case model.StageHealthy:
			status.Healthy++
		case model.StageFailed:
			status.Failed++
			w.logger.Warn("Host failed during rollout",
				zap.String("rollout_id", event.RolloutID),
				zap.String("host", event.HostID),
				zap.Int("batch", event.Batch),
				zap.String("error", event.Error))
		case model.StageRolledBack:
			status.RolledBack++
			if event.From == model.StageFailed {
				status.Failed--
			}
			w.logger.Warn("Host rolled back during rollout",
				zap.String("rollout_id", event.RolloutID),
				zap.String("host", event.HostID),
				zap.Int("batch", event.Batch))
		}

	case events.TypeRolloutCompleted:
		status.Completed = true
		w.logger.Info("Rollout completed",
			zap.String("rollout_id", event.RolloutID),
			zap.Int("healthy", status.Healthy),
			zap.Int("failed", status.Failed),
			zap.Int("rolled_back", status.RolledBack))

	case events.TypeRolloutAborted:
		status.Completed = true
		status.Aborted = true
		status.AbortReason = event.Error
		w.logger.Error("Rollout aborted",
			zap.String("rollout_id", event.RolloutID),
			zap.String("reason", event.Error),
			zap.Int("failed", status.Failed),
			zap.Int("rolled_back", status.RolledBack))
	}
}

// pruneLoop drops completed rollouts once they age out
func (w *Watcher) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(w.retention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.prune()
		}
	}
}

func (w *Watcher) prune() {
	cutoff := time.Now().Add(-w.retention)

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, status := range w.rollouts {
		if status.Completed && status.LastEvent.Before(cutoff) {
			delete(w.rollouts, id)
		}
	}
}

// Rollouts returns a snapshot of the tracked rollouts
func (w *Watcher) Rollouts() map[string]*RolloutStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rollouts := make(map[string]*RolloutStatus, len(w.rollouts))
	for id, status := range w.rollouts {
		copied := *status
		rollouts[id] = &copied
	}
	return rollouts
}
