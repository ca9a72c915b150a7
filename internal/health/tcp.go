package health

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// TCPChecker probes a host by opening a TCP connection to an address.
// A completed dial counts as healthy.
type TCPChecker struct {
	logger   *zap.Logger
	addrTmpl string
	dialer   *net.Dialer
}

// NewTCPChecker creates a new TCP health checker. The address may contain
// {host} and connection variable placeholders expanded per host.
func NewTCPChecker(addrTmpl string, logger *zap.Logger) *TCPChecker {
	return &TCPChecker{
		logger:   logger.Named("health-tcp"),
		addrTmpl: addrTmpl,
		dialer:   &net.Dialer{},
	}
}

// Check implements Checker.
func (c *TCPChecker) Check(ctx context.Context, host *model.Host) (bool, error) {
	addr := host.Expand(c.addrTmpl)

	c.logger.Debug("Probing host",
		zap.String("host", host.ID),
		zap.String("address", addr))

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.logger.Debug("Host unreachable",
			zap.String("host", host.ID),
			zap.String("address", addr),
			zap.Error(err))
		return false, nil
	}
	conn.Close()

	return true, nil
}
