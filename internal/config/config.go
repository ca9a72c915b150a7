// Package config loads fleetroll configuration from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fleetroll/fleetroll/internal/executor"
	"github.com/fleetroll/fleetroll/internal/health"
	"github.com/fleetroll/fleetroll/internal/model"
	"github.com/fleetroll/fleetroll/internal/schedule"
)

// Config is the full runtime configuration.
type Config struct {
	App       App                 `mapstructure:"app"`
	Inventory string              `mapstructure:"inventory"`
	Rollout   model.RolloutPolicy `mapstructure:"rollout"`
	Executor  executor.Config     `mapstructure:"executor"`
	Health    []health.Config     `mapstructure:"health"`
	NATS      NATS                `mapstructure:"nats"`
	Storage   Storage             `mapstructure:"storage"`
	Windows   []schedule.Window   `mapstructure:"windows"`
}

// App identifies the process.
type App struct {
	Name string `mapstructure:"name"`
}

// NATS configures the event broker connection. When disabled, events go
// only to the log.
type NATS struct {
	Enabled        bool          `mapstructure:"enabled"`
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Storage configures the rollout history database.
type Storage struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads configuration from path. An empty path falls back to the
// default search locations (./config/config.yaml, ./config.yaml).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fleetroll")
	v.SetDefault("inventory", "./config/inventory.yaml")

	v.SetDefault("rollout.batch_size", 1)
	v.SetDefault("rollout.max_retries", 2)
	v.SetDefault("rollout.retry_delay", "5s")
	v.SetDefault("rollout.health_check_timeout", "30s")
	v.SetDefault("rollout.failure_threshold", 0.0)
	v.SetDefault("rollout.cancel_grace", "10s")

	v.SetDefault("executor.type", "shell")
	v.SetDefault("executor.command_timeout", "60s")
	v.SetDefault("executor.stop_timeout", "30s")

	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")

	v.SetDefault("storage.path", "rollouts.db")
	v.SetDefault("storage.retention", "720h")
}
