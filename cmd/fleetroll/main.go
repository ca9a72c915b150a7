package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/config"
	"github.com/fleetroll/fleetroll/internal/events"
	"github.com/fleetroll/fleetroll/internal/executor"
	"github.com/fleetroll/fleetroll/internal/health"
	"github.com/fleetroll/fleetroll/internal/inventory"
	"github.com/fleetroll/fleetroll/internal/model"
	"github.com/fleetroll/fleetroll/internal/monitor"
	"github.com/fleetroll/fleetroll/internal/rollout"
	"github.com/fleetroll/fleetroll/internal/schedule"
	"github.com/fleetroll/fleetroll/internal/storage"
)

var (
	configPath = flag.String("config", "", "path to config file (default ./config/config.yaml)")
	groupsFlag = flag.String("groups", "", "comma-separated group filter for the rollout")
	serveFlag  = flag.Bool("serve", false, "stay resident and run rollouts on maintenance windows")
	historyN   = flag.Int("history", 0, "print the last N rollouts and exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Rollout history store
	var store rollout.Store
	var rolloutStore *storage.SQLiteRolloutStore
	if cfg.Storage.Enabled {
		rolloutStore, err = storage.NewSQLiteRolloutStore(logger, cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open rollout store", zap.Error(err))
			return 1
		}
		defer rolloutStore.Close()
		store = rolloutStore

		if cfg.Storage.Retention > 0 {
			cutoff := time.Now().Add(-cfg.Storage.Retention)
			if err := rolloutStore.DeleteBefore(ctx, cutoff); err != nil {
				logger.Warn("Failed to prune rollout history", zap.Error(err))
			}
		}
	}

	if *historyN > 0 {
		if rolloutStore == nil {
			logger.Error("History requires storage to be enabled")
			return 1
		}
		return printHistory(ctx, logger, rolloutStore, *historyN)
	}

	// Restart transport
	exec, err := executor.New(cfg.Executor, logger)
	if err != nil {
		logger.Error("Failed to create executor", zap.Error(err))
		return 1
	}

	// Health checks gate every restart; refuse to run without one.
	if len(cfg.Health) == 0 {
		logger.Error("At least one health check must be configured")
		return 1
	}
	checkers := make([]health.Checker, 0, len(cfg.Health))
	for _, hc := range cfg.Health {
		checker, err := health.New(hc, logger)
		if err != nil {
			logger.Error("Failed to create health checker", zap.Error(err))
			return 1
		}
		checkers = append(checkers, checker)
	}
	checker := health.All(checkers...)

	// Event publishers: always log; mirror to NATS when a broker is
	// configured so watchers on other machines can follow along.
	publishers := events.Multi{events.NewLogging(logger)}
	var js nats.JetStreamContext
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS after retries", zap.Error(err))
			return 1
		}
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			logger.Error("Failed to create JetStream context", zap.Error(err))
			return 1
		}

		natsPub, err := events.NewNATS(js, logger)
		if err != nil {
			logger.Error("Failed to create NATS event publisher", zap.Error(err))
			return 1
		}
		publishers = append(publishers, natsPub)
	}

	controller := rollout.NewController(exec, checker, publishers, store, logger)

	if *serveFlag {
		return serve(ctx, logger, cfg, controller, js)
	}

	// One-shot rollout over the inventory.
	hosts, err := inventory.Load(cfg.Inventory)
	if err != nil {
		logger.Error("Failed to load inventory", zap.Error(err))
		return 1
	}
	if *groupsFlag != "" {
		hosts = inventory.FilterGroups(hosts, strings.Split(*groupsFlag, ","))
	}
	if len(hosts) == 0 {
		logger.Error("No hosts selected for rollout")
		return 1
	}

	result, err := controller.Run(ctx, hosts, cfg.Rollout)
	if err != nil {
		logger.Error("Rollout rejected", zap.Error(err))
		return 1
	}

	printSummary(logger, result)
	if !result.Succeeded() {
		return 1
	}
	return 0
}

// connectNATS dials the broker with retry and the connection options the
// rest of the process relies on.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Error("NATS connection error",
					zap.String("subject", sub.Subject),
					zap.Error(err))
				return
			}
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	url := strings.Join(cfg.NATS.URLs, ",")

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// serve keeps the process resident, opening maintenance windows on schedule
// and tailing rollout events.
func serve(ctx context.Context, logger *zap.Logger, cfg *config.Config, controller *rollout.Controller, js nats.JetStreamContext) int {
	if len(cfg.Windows) == 0 {
		logger.Error("Serve mode requires at least one maintenance window")
		return 1
	}

	runWindow := func(ctx context.Context, window schedule.Window) {
		hosts, err := inventory.Load(cfg.Inventory)
		if err != nil {
			logger.Error("Failed to load inventory",
				zap.String("window", window.Name),
				zap.Error(err))
			return
		}
		hosts = inventory.FilterGroups(hosts, window.Groups)
		if len(hosts) == 0 {
			logger.Warn("Window matched no hosts", zap.String("window", window.Name))
			return
		}

		result, err := controller.Run(ctx, hosts, cfg.Rollout)
		if err != nil {
			logger.Error("Rollout rejected",
				zap.String("window", window.Name),
				zap.Error(err))
			return
		}
		printSummary(logger, result)
	}

	scheduler := schedule.NewScheduler(runWindow, logger)
	for _, window := range cfg.Windows {
		if err := scheduler.AddWindow(window); err != nil {
			logger.Error("Failed to add maintenance window",
				zap.String("window", window.Name),
				zap.Error(err))
			return 1
		}
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", zap.Error(err))
		return 1
	}
	defer scheduler.Stop()

	var watcher *monitor.Watcher
	if js != nil {
		watcher = monitor.NewWatcher(js, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Error("Failed to start watcher", zap.Error(err))
			return 1
		}
		defer watcher.Stop()
	}

	// Periodically report what the fleet is doing.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if watcher == nil {
					continue
				}
				for _, status := range watcher.Rollouts() {
					if status.Completed {
						continue
					}
					logger.Info("Rollout in progress",
						zap.String("rollout_id", status.RolloutID),
						zap.Int("batch", status.CurrentBatch),
						zap.Int("healthy", status.Healthy),
						zap.Int("failed", status.Failed))
				}
			}
		}
	}()

	logger.Info("Serving maintenance windows",
		zap.Int("windows", len(cfg.Windows)))

	<-ctx.Done()
	logger.Info("Shutting down gracefully")
	return 0
}

// printSummary logs the rollout outcome with one line per unhealthy host.
func printSummary(logger *zap.Logger, result *model.RolloutResult) {
	logger.Info("Rollout finished",
		zap.String("rollout_id", result.ID),
		zap.Int("healthy", result.Healthy),
		zap.Int("failed", result.Failed),
		zap.Int("rolled_back", result.RolledBack),
		zap.Int("skipped", result.Skipped),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.Duration))
	if result.AbortReason != "" {
		logger.Warn("Rollout aborted", zap.String("reason", result.AbortReason))
	}

	for _, host := range result.Hosts {
		if host.Stage == model.StageHealthy {
			continue
		}
		logger.Warn("Host did not reach healthy",
			zap.String("host", host.HostID),
			zap.String("group", host.Group),
			zap.String("stage", string(host.Stage)),
			zap.Int("attempts", host.Attempts),
			zap.Bool("skipped", host.Skipped),
			zap.String("error", host.Error))
	}
}

// printHistory lists the most recent rollouts from the store.
func printHistory(ctx context.Context, logger *zap.Logger, store storage.RolloutStorage, n int) int {
	results, err := store.List(ctx, 0, n)
	if err != nil {
		logger.Error("Failed to list rollout history", zap.Error(err))
		return 1
	}

	for _, result := range results {
		logger.Info("Rollout",
			zap.String("rollout_id", result.ID),
			zap.Time("started_at", result.StartedAt),
			zap.Duration("duration", result.Duration),
			zap.Int("healthy", result.Healthy),
			zap.Int("failed", result.Failed),
			zap.Int("rolled_back", result.RolledBack),
			zap.Int("skipped", result.Skipped),
			zap.Bool("aborted", result.Aborted))
	}

	logger.Info("Rollout history", zap.Int("shown", len(results)))
	return 0
}
