package executor

import (
	"context"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

const (
	logTailLines   = 20
	logTailTimeout = 5 * time.Second
)

// logTail fetches the last lines a container wrote before its restart
// failed. Best effort: any error fetching or decoding yields an empty tail.
func (e *DockerExecutor) logTail(ctx context.Context, name string) string {
	tailCtx, cancel := context.WithTimeout(ctx, logTailTimeout)
	defer cancel()

	reader, err := e.cli.ContainerLogs(tailCtx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(logTailLines),
	})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var lines []string
	scanner := newLogFrameScanner(reader)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// logFrameScanner splits the multiplexed stream ContainerLogs returns for
// containers running without a TTY. Each frame carries an 8-byte header:
// stream type, three zero bytes, then the payload size in big-endian.
type logFrameScanner struct {
	reader io.Reader
	header [8]byte
	buffer []byte
	err    error
}

func newLogFrameScanner(reader io.Reader) *logFrameScanner {
	return &logFrameScanner{
		reader: reader,
		buffer: make([]byte, 0, 4096),
	}
}

// Scan advances to the next frame.
func (s *logFrameScanner) Scan() bool {
	if _, err := io.ReadFull(s.reader, s.header[:]); err != nil {
		s.err = err
		return false
	}

	size := int(binary.BigEndian.Uint32(s.header[4:8]))
	if cap(s.buffer) < size {
		s.buffer = make([]byte, size)
	}
	s.buffer = s.buffer[:size]

	if _, err := io.ReadFull(s.reader, s.buffer); err != nil {
		s.err = err
		return false
	}
	return true
}

// Text returns the current frame's payload.
func (s *logFrameScanner) Text() string {
	return string(s.buffer)
}

// Err reports the first error hit while scanning; a clean end of stream is
// not an error.
func (s *logFrameScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
