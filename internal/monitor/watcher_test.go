package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/events"
	"github.com/fleetroll/fleetroll/internal/model"
	"github.com/fleetroll/fleetroll/internal/testutil"
)

func TestWatcher(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger, _ := zap.NewDevelopment()

	// Setup: ensure the rollout stream exists before subscribing.
	_, err := events.NewNATS(js, logger)
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForStream(t, js, "ROLLOUTS", 5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := NewWatcher(js, logger)
	require.NoError(t, watcher.Start(ctx))
	defer watcher.Stop()

	publish := func(t *testing.T, ev events.Event) {
		t.Helper()
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		_, err = js.Publish(events.Subject(ev.Type), data)
		require.NoError(t, err)
	}

	t.Run("Aggregates host transitions per rollout", func(t *testing.T) {
		publish(t, events.Event{RolloutID: "r1", Type: events.TypeRolloutStarted})
		publish(t, events.Event{RolloutID: "r1", Type: events.TypeBatchStarted, Batch: 1, Group: "nginx"})
		publish(t, events.Event{
			RolloutID: "r1", Type: events.TypeHostTransition,
			HostID: "web-1", From: model.StageAwaitingHealth, To: model.StageHealthy,
		})
		publish(t, events.Event{
			RolloutID: "r1", Type: events.TypeHostTransition,
			HostID: "web-2", From: model.StageAwaitingHealth, To: model.StageHealthy,
		})
		publish(t, events.Event{
			RolloutID: "r1", Type: events.TypeHostTransition,
			HostID: "web-3", From: model.StageRestarting, To: model.StageFailed,
			Error: "restart command exited 1",
		})

		require.Eventually(t, func() bool {
			status, ok := watcher.Rollouts()["r1"]
			return ok && status.Healthy == 2 && status.Failed == 1 && status.CurrentBatch == 1
		}, 5*time.Second, 50*time.Millisecond)

		status := watcher.Rollouts()["r1"]
		assert.False(t, status.Completed)
		assert.False(t, status.Aborted)
	})

	t.Run("Rollback moves a host out of the failed column", func(t *testing.T) {
		publish(t, events.Event{
			RolloutID: "r1", Type: events.TypeHostTransition,
			HostID: "web-3", From: model.StageFailed, To: model.StageRolledBack,
		})

		require.Eventually(t, func() bool {
			status, ok := watcher.Rollouts()["r1"]
			return ok && status.RolledBack == 1 && status.Failed == 0
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("Abort closes out the rollout", func(t *testing.T) {
		publish(t, events.Event{
			RolloutID: "r1", Type: events.TypeRolloutAborted,
			Error: "batch 1 failure rate 0.50 exceeded threshold 0.25",
		})

		require.Eventually(t, func() bool {
			status, ok := watcher.Rollouts()["r1"]
			return ok && status.Completed && status.Aborted
		}, 5*time.Second, 50*time.Millisecond)

		status := watcher.Rollouts()["r1"]
		assert.Contains(t, status.AbortReason, "threshold")
	})

	t.Run("Rollouts are tracked independently", func(t *testing.T) {
		publish(t, events.Event{RolloutID: "r2", Type: events.TypeRolloutStarted})
		publish(t, events.Event{
			RolloutID: "r2", Type: events.TypeHostTransition,
			HostID: "app-1", From: model.StageAwaitingHealth, To: model.StageHealthy,
		})
		publish(t, events.Event{RolloutID: "r2", Type: events.TypeRolloutCompleted})

		require.Eventually(t, func() bool {
			status, ok := watcher.Rollouts()["r2"]
			return ok && status.Completed && status.Healthy == 1
		}, 5*time.Second, 50*time.Millisecond)

		// r1 aggregates are untouched by r2 traffic.
		r1 := watcher.Rollouts()["r1"]
		require.NotNil(t, r1)
		assert.Equal(t, 2, r1.Healthy)
	})

	t.Run("Snapshot is a copy", func(t *testing.T) {
		snap := watcher.Rollouts()
		require.NotNil(t, snap["r1"])
		snap["r1"].Healthy = 99

		assert.NotEqual(t, 99, watcher.Rollouts()["r1"].Healthy)
	})
}

func TestWatcherPrune(t *testing.T) {
	logger := zap.NewNop()
	w := NewWatcher(nil, logger)
	w.retention = time.Minute

	w.rollouts["done-old"] = &RolloutStatus{
		RolloutID: "done-old",
		Completed: true,
		LastEvent: time.Now().Add(-time.Hour),
	}
	w.rollouts["done-fresh"] = &RolloutStatus{
		RolloutID: "done-fresh",
		Completed: true,
		LastEvent: time.Now(),
	}
	w.rollouts["running-old"] = &RolloutStatus{
		RolloutID: "running-old",
		LastEvent: time.Now().Add(-time.Hour),
	}

	w.prune()

	rollouts := w.Rollouts()
	assert.NotContains(t, rollouts, "done-old")
	assert.Contains(t, rollouts, "done-fresh")
	// In-flight rollouts are never pruned, however stale.
	assert.Contains(t, rollouts, "running-old")
}
