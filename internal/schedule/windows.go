// Package schedule fires rollouts inside recurring maintenance windows.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Window is a recurring maintenance window. Expression uses six-field cron
// syntax (with seconds). Groups optionally narrows the window to specific
// host groups; empty means the whole inventory.
type Window struct {
	Name       string   `json:"name" mapstructure:"name"`
	Expression string   `json:"expression" mapstructure:"expression"`
	Groups     []string `json:"groups" mapstructure:"groups"`
}

// RolloutFunc launches one rollout for a window's host selection.
type RolloutFunc func(ctx context.Context, window Window)

// Scheduler triggers rollouts when maintenance windows open. Only one
// window-triggered rollout runs at a time; a window opening while another
// rollout is still in flight is skipped and logged.
type Scheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	run     RolloutFunc
	windows sync.Map
	entries sync.Map
	busy    atomic.Bool

	mu      sync.Mutex
	baseCtx context.Context
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScheduler creates a window scheduler that invokes run for each window
// opening.
func NewScheduler(run RolloutFunc, logger *zap.Logger) *Scheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger)),
	}

	return &Scheduler{
		logger: logger.Named("schedule"),
		cron:   cron.New(cronOptions...),
		run:    run,
	}
}

// Start begins firing windows. ctx is handed to every triggered rollout;
// cancelling it cancels in-flight rollouts the usual way.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Window scheduler started")
	return nil
}

// Stop stops firing windows and waits for a running job to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Window scheduler stopped")
}

// AddWindow registers a maintenance window.
func (s *Scheduler) AddWindow(window Window) error {
	if window.Name == "" {
		return fmt.Errorf("window name must not be empty")
	}
	if _, exists := s.windows.Load(window.Name); exists {
		return fmt.Errorf("window already registered: %s", window.Name)
	}

	specParser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := specParser.Parse(window.Expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.windows.Store(window.Name, window)

	entryID, err := s.cron.AddJob(window.Expression, &windowJob{
		scheduler: s,
		window:    window,
	})
	if err != nil {
		s.windows.Delete(window.Name)
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entries.Store(window.Name, entryID)

	s.logger.Info("Added maintenance window",
		zap.String("name", window.Name),
		zap.String("expression", window.Expression),
		zap.Strings("groups", window.Groups),
		zap.Time("next_open", spec.Next(time.Now())))

	return nil
}

// RemoveWindow unregisters a maintenance window.
func (s *Scheduler) RemoveWindow(name string) error {
	entryIDVal, ok := s.entries.Load(name)
	if !ok {
		return fmt.Errorf("window not found: %s", name)
	}

	s.cron.Remove(entryIDVal.(cron.EntryID))
	s.entries.Delete(name)
	s.windows.Delete(name)

	s.logger.Info("Removed maintenance window", zap.String("name", name))
	return nil
}

// ListWindows lists all registered windows.
func (s *Scheduler) ListWindows() []Window {
	var windows []Window
	s.windows.Range(func(key, value interface{}) bool {
		windows = append(windows, value.(Window))
		return true
	})
	return windows
}

// windowJob implements cron.Job interface
type windowJob struct {
	scheduler *Scheduler
	window    Window
}

// Run implements cron.Job
func (j *windowJob) Run() {
	s := j.scheduler

	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("Previous rollout still running, skipping window",
			zap.String("name", j.window.Name))
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("Maintenance window opened",
		zap.String("name", j.window.Name),
		zap.Strings("groups", j.window.Groups))

	s.run(ctx, j.window)
}
