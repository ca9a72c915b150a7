package executor

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestLogFrameScanner(t *testing.T) {
	t.Run("Decodes multiplexed frames in order", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(frame(1, "starting nginx\n"))
		buf.Write(frame(2, "bind: address already in use\n"))
		buf.Write(frame(1, "exiting\n"))

		scanner := newLogFrameScanner(&buf)

		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		require.NoError(t, scanner.Err())
		assert.Equal(t, []string{
			"starting nginx\n",
			"bind: address already in use\n",
			"exiting\n",
		}, lines)
	})

	t.Run("Empty frames are valid", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(frame(1, ""))
		buf.Write(frame(1, "after empty"))

		scanner := newLogFrameScanner(&buf)
		require.True(t, scanner.Scan())
		assert.Equal(t, "", scanner.Text())
		require.True(t, scanner.Scan())
		assert.Equal(t, "after empty", scanner.Text())
		assert.False(t, scanner.Scan())
		assert.NoError(t, scanner.Err())
	})

	t.Run("Truncated frame surfaces an error", func(t *testing.T) {
		data := frame(1, "full line\n")
		buf := bytes.NewBuffer(data[:len(data)-4])

		scanner := newLogFrameScanner(buf)
		assert.False(t, scanner.Scan())
		assert.Error(t, scanner.Err())
	})

	t.Run("Empty stream ends cleanly", func(t *testing.T) {
		scanner := newLogFrameScanner(bytes.NewBuffer(nil))
		assert.False(t, scanner.Scan())
		assert.NoError(t, scanner.Err())
	})
}
