package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

func TestShellExecutor(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	host := &model.Host{
		ID:     "web-1",
		Groups: []string{"nginx"},
		Conn:   map[string]string{"service": "nginx"},
	}

	t.Run("Successful restart", func(t *testing.T) {
		exec := NewShellExecutor(Config{RestartCommand: "exit 0"}, logger)
		require.NoError(t, exec.Restart(context.Background(), host))
	})

	t.Run("Command template expands host variables", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "marker")
		exec := NewShellExecutor(Config{
			RestartCommand: "printf '%s' '{host} {group} {service}' > " + marker,
		}, logger)

		require.NoError(t, exec.Restart(context.Background(), host))

		data, err := os.ReadFile(marker)
		require.NoError(t, err)
		assert.Equal(t, "web-1 nginx nginx", string(data))
	})

	t.Run("Failure carries the command output", func(t *testing.T) {
		exec := NewShellExecutor(Config{
			RestartCommand: "echo 'unit not found' >&2; exit 1",
		}, logger)

		err := exec.Restart(context.Background(), host)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unit not found")
		assert.Contains(t, err.Error(), "web-1")
	})

	t.Run("Command timeout", func(t *testing.T) {
		exec := NewShellExecutor(Config{
			RestartCommand: "sleep 10",
			CommandTimeout: 100 * time.Millisecond,
		}, logger)

		start := time.Now()
		err := exec.Restart(context.Background(), host)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("Context cancellation stops the command", func(t *testing.T) {
		exec := NewShellExecutor(Config{RestartCommand: "sleep 10"}, logger)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := exec.Restart(ctx, host)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("Missing restart command rejected", func(t *testing.T) {
		exec := NewShellExecutor(Config{}, logger)
		err := exec.Restart(context.Background(), host)
		require.Error(t, err)
	})

	t.Run("Rollback without a command is unsupported", func(t *testing.T) {
		exec := NewShellExecutor(Config{RestartCommand: "exit 0"}, logger)
		err := exec.Rollback(context.Background(), host)
		assert.True(t, errors.Is(err, ErrRollbackUnsupported))
	})

	t.Run("Configured rollback runs", func(t *testing.T) {
		exec := NewShellExecutor(Config{
			RestartCommand:  "exit 1",
			RollbackCommand: "exit 0",
		}, logger)
		require.NoError(t, exec.Rollback(context.Background(), host))
	})

	t.Run("Connection ceiling is advertised", func(t *testing.T) {
		exec := NewShellExecutor(Config{MaxConnections: 4}, logger)
		assert.Equal(t, 4, exec.MaxConnections())
	})
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()

	t.Run("Defaults to shell", func(t *testing.T) {
		exec, err := New(Config{RestartCommand: "exit 0"}, logger)
		require.NoError(t, err)
		_, ok := exec.(*ShellExecutor)
		assert.True(t, ok)
	})

	t.Run("Explicit shell", func(t *testing.T) {
		exec, err := New(Config{Type: TypeShell, RestartCommand: "exit 0"}, logger)
		require.NoError(t, err)
		assert.NotNil(t, exec)
	})

	t.Run("Unknown type rejected", func(t *testing.T) {
		_, err := New(Config{Type: "carrier-pigeon"}, logger)
		require.Error(t, err)
	})
}
