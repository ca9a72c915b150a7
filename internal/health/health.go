package health

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// Checker probes a single host and reports whether the service on it is
// healthy. A false result with a nil error means the probe ran and the
// service failed it; a non-nil error means the probe itself could not be
// completed. Both count as unhealthy.
type Checker interface {
	Check(ctx context.Context, host *model.Host) (bool, error)
}

// Checker types supported by the factory.
const (
	TypeHTTP    = "http"
	TypeTCP     = "tcp"
	TypeProcess = "process"
)

// Config describes a single health probe.
type Config struct {
	Type    string `json:"type" mapstructure:"type"`
	URL     string `json:"url" mapstructure:"url"`
	Address string `json:"address" mapstructure:"address"`
	Process string `json:"process" mapstructure:"process"`
}

// New creates a checker from configuration.
func New(cfg Config, logger *zap.Logger) (Checker, error) {
	switch cfg.Type {
	case TypeHTTP:
		if cfg.URL == "" {
			return nil, &model.ConfigError{Field: "health.url", Reason: "required for http checks"}
		}
		return NewHTTPChecker(cfg.URL, logger), nil
	case TypeTCP:
		if cfg.Address == "" {
			return nil, &model.ConfigError{Field: "health.address", Reason: "required for tcp checks"}
		}
		return NewTCPChecker(cfg.Address, logger), nil
	case TypeProcess:
		if cfg.Process == "" {
			return nil, &model.ConfigError{Field: "health.process", Reason: "required for process checks"}
		}
		return NewProcessChecker(cfg.Process, logger), nil
	default:
		return nil, &model.ConfigError{Field: "health.type", Reason: fmt.Sprintf("unknown checker type %q", cfg.Type)}
	}
}

// All combines checkers into one that passes only when every checker passes.
// Checkers run in order and the first failure wins.
func All(checkers ...Checker) Checker {
	return composite(checkers)
}

type composite []Checker

func (c composite) Check(ctx context.Context, host *model.Host) (bool, error) {
	for _, checker := range c {
		healthy, err := checker.Check(ctx, host)
		if err != nil {
			return false, err
		}
		if !healthy {
			return false, nil
		}
	}
	return true, nil
}

// Func adapts a plain function to the Checker interface.
type Func func(ctx context.Context, host *model.Host) (bool, error)

// Check implements Checker.
func (f Func) Check(ctx context.Context, host *model.Host) (bool, error) {
	return f(ctx, host)
}
