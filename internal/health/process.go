package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// ProcessChecker probes the local machine for a running process by name.
// It is meant for rollouts where fleetroll runs on the host being
// restarted, or where hosts share the coordinator's process table.
type ProcessChecker struct {
	logger   *zap.Logger
	nameTmpl string
}

// NewProcessChecker creates a new process health checker. The process name
// may contain {host} and connection variable placeholders expanded per host.
func NewProcessChecker(nameTmpl string, logger *zap.Logger) *ProcessChecker {
	return &ProcessChecker{
		logger:   logger.Named("health-process"),
		nameTmpl: nameTmpl,
	}
}

// Check implements Checker.
func (c *ProcessChecker) Check(ctx context.Context, host *model.Host) (bool, error) {
	name := host.Expand(c.nameTmpl)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		if pname == name {
			return true, nil
		}
	}

	c.logger.Debug("Process not found",
		zap.String("host", host.ID),
		zap.String("process", name))

	return false, nil
}
