package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// HTTPChecker probes a host by issuing a GET request against its health
// endpoint. Any status below 400 counts as healthy.
type HTTPChecker struct {
	logger     *zap.Logger
	urlTmpl    string
	httpClient *http.Client
}

// NewHTTPChecker creates a new HTTP health checker. The URL may contain
// {host} and connection variable placeholders expanded per host.
func NewHTTPChecker(urlTmpl string, logger *zap.Logger) *HTTPChecker {
	return &HTTPChecker{
		logger:  logger.Named("health-http"),
		urlTmpl: urlTmpl,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Check implements Checker.
func (c *HTTPChecker) Check(ctx context.Context, host *model.Host) (bool, error) {
	url := host.Expand(c.urlTmpl)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug("Probing host",
		zap.String("host", host.ID),
		zap.String("url", url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused across probes.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.logger.Debug("Host unhealthy",
			zap.String("host", host.ID),
			zap.Int("status", resp.StatusCode))
		return false, nil
	}

	return true, nil
}
