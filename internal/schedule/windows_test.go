package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddWindow(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	sched := NewScheduler(func(ctx context.Context, window Window) {}, logger)

	t.Run("Valid window registered", func(t *testing.T) {
		err := sched.AddWindow(Window{
			Name:       "nightly",
			Expression: "0 0 3 * * *",
			Groups:     []string{"nginx"},
		})
		require.NoError(t, err)

		windows := sched.ListWindows()
		require.Len(t, windows, 1)
		assert.Equal(t, "nightly", windows[0].Name)
	})

	t.Run("Duplicate name rejected", func(t *testing.T) {
		err := sched.AddWindow(Window{Name: "nightly", Expression: "0 0 4 * * *"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("Empty name rejected", func(t *testing.T) {
		err := sched.AddWindow(Window{Expression: "0 0 3 * * *"})
		require.Error(t, err)
	})

	t.Run("Invalid cron expression rejected", func(t *testing.T) {
		err := sched.AddWindow(Window{Name: "broken", Expression: "not-cron"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron expression")
		assert.Len(t, sched.ListWindows(), 1)
	})

	t.Run("Five-field expression rejected", func(t *testing.T) {
		err := sched.AddWindow(Window{Name: "short", Expression: "0 3 * * *"})
		require.Error(t, err)
	})
}

func TestRemoveWindow(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	sched := NewScheduler(func(ctx context.Context, window Window) {}, logger)

	require.NoError(t, sched.AddWindow(Window{Name: "nightly", Expression: "0 0 3 * * *"}))
	require.NoError(t, sched.RemoveWindow("nightly"))
	assert.Empty(t, sched.ListWindows())

	err := sched.RemoveWindow("nightly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestWindowJob(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("Opening a window triggers the rollout", func(t *testing.T) {
		fired := make(chan Window, 1)
		sched := NewScheduler(func(ctx context.Context, window Window) {
			fired <- window
		}, logger)

		window := Window{Name: "nightly", Expression: "0 0 3 * * *", Groups: []string{"nginx"}}
		job := &windowJob{scheduler: sched, window: window}
		job.Run()

		select {
		case got := <-fired:
			assert.Equal(t, "nightly", got.Name)
			assert.Equal(t, []string{"nginx"}, got.Groups)
		default:
			t.Fatal("rollout was not triggered")
		}
		assert.False(t, sched.busy.Load())
	})

	t.Run("Busy scheduler skips overlapping windows", func(t *testing.T) {
		var calls atomic.Int32
		sched := NewScheduler(func(ctx context.Context, window Window) {
			calls.Add(1)
		}, logger)

		sched.busy.Store(true)
		job := &windowJob{scheduler: sched, window: Window{Name: "nightly"}}
		job.Run()

		assert.Equal(t, int32(0), calls.Load())
		// The in-flight rollout keeps ownership of the busy flag.
		assert.True(t, sched.busy.Load())
	})

	t.Run("Scheduler context reaches the rollout", func(t *testing.T) {
		type ctxKey struct{}
		received := make(chan context.Context, 1)
		sched := NewScheduler(func(ctx context.Context, window Window) {
			received <- ctx
		}, logger)

		ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
		require.NoError(t, sched.Start(ctx))
		defer sched.Stop()

		job := &windowJob{scheduler: sched, window: Window{Name: "nightly"}}
		job.Run()

		got := <-received
		assert.Equal(t, "marker", got.Value(ctxKey{}))
	})
}

func TestSchedulerFiresOnSchedule(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	fired := make(chan struct{}, 4)
	sched := NewScheduler(func(ctx context.Context, window Window) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, logger)

	// Every second, so the test observes at least one opening.
	require.NoError(t, sched.AddWindow(Window{Name: "tick", Expression: "* * * * * *"}))
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("window never opened")
	}
}
