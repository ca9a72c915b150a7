package events

import (
	"time"

	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
)

// Type identifies what happened.
type Type string

// Event types emitted during a rollout.
const (
	TypeRolloutStarted   Type = "rollout_started"
	TypeRolloutCompleted Type = "rollout_completed"
	TypeRolloutAborted   Type = "rollout_aborted"
	TypeBatchStarted     Type = "batch_started"
	TypeBatchCompleted   Type = "batch_completed"
	TypeHostTransition   Type = "host_transition"
)

// Event is a single rollout observation. Host fields are empty on
// rollout- and batch-level events.
type Event struct {
	RolloutID string      `json:"rollout_id"`
	Type      Type        `json:"type"`
	Batch     int         `json:"batch"`
	Group     string      `json:"group,omitempty"`
	HostID    string      `json:"host_id,omitempty"`
	From      model.Stage `json:"from,omitempty"`
	To        model.Stage `json:"to,omitempty"`
	Attempt   int         `json:"attempt,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher receives rollout events. Implementations must not block:
// a slow or broken consumer may lose events but never stalls a rollout.
type Publisher interface {
	Publish(event Event)
}

// Nop discards all events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Logging writes each event to a zap logger.
type Logging struct {
	logger *zap.Logger
}

// NewLogging creates a publisher that logs events.
func NewLogging(logger *zap.Logger) *Logging {
	return &Logging{logger: logger.Named("events")}
}

// Publish implements Publisher.
func (l *Logging) Publish(event Event) {
	fields := []zap.Field{
		zap.String("rollout_id", event.RolloutID),
		zap.String("type", string(event.Type)),
		zap.Int("batch", event.Batch),
	}
	if event.HostID != "" {
		fields = append(fields,
			zap.String("host", event.HostID),
			zap.String("from", string(event.From)),
			zap.String("to", string(event.To)),
			zap.Int("attempt", event.Attempt))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	l.logger.Info("Rollout event", fields...)
}

// Chan buffers events on a channel for consumers that poll. Events are
// dropped once the buffer fills.
type Chan struct {
	ch chan Event
}

// NewChan creates a channel-backed publisher with the given buffer size.
func NewChan(size int) *Chan {
	return &Chan{ch: make(chan Event, size)}
}

// Publish implements Publisher.
func (c *Chan) Publish(event Event) {
	select {
	case c.ch <- event:
	default:
	}
}

// Events returns the receive side of the buffer.
func (c *Chan) Events() <-chan Event {
	return c.ch
}

// Multi fans each event out to several publishers.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(event Event) {
	for _, p := range m {
		p.Publish(event)
	}
}

// Scoped stamps rollout and batch identity onto events published from
// inside a batch.
type Scoped struct {
	RolloutID string
	Batch     int
	Inner     Publisher
}

// Publish implements Publisher.
func (s *Scoped) Publish(event Event) {
	event.RolloutID = s.RolloutID
	event.Batch = s.Batch
	s.Inner.Publish(event)
}
