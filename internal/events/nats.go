package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	rolloutStreamName  = "ROLLOUTS"
	rolloutSubjectBase = "rollout.event"
	streamMaxAge       = 24 * time.Hour // Keep events for 24 hours
	streamMaxMsgs      = -1             // Unlimited messages
	setupTimeout       = 30 * time.Second
)

// NATS publishes events to a JetStream stream so other processes can
// follow rollouts as they happen. Publishing is asynchronous; delivery
// failures are logged and dropped.
type NATS struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATS creates a JetStream-backed publisher and ensures the rollout
// stream exists.
func NewNATS(js nats.JetStreamContext, logger *zap.Logger) (*NATS, error) {
	p := &NATS{
		js:     js,
		logger: logger.Named("events-nats"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	return p, nil
}

func (p *NATS) setupStream(ctx context.Context) error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     rolloutStreamName,
		Subjects: []string{rolloutSubjectBase + ".*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	}, nats.Context(ctx))

	if err != nil {
		// If stream already exists, that's okay
		if err == nats.ErrStreamNameAlreadyInUse {
			p.logger.Info("Stream already exists", zap.String("stream", rolloutStreamName))
			return nil
		}
		return err
	}

	p.logger.Info("Stream created successfully", zap.String("stream", rolloutStreamName))
	return nil
}

// Publish implements Publisher.
func (p *NATS) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("%s.%s", rolloutSubjectBase, event.Type)

	// Async publish keeps slow brokers off the rollout's critical path.
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Subject returns the JetStream subject events of the given type are
// published on.
func Subject(t Type) string {
	return fmt.Sprintf("%s.%s", rolloutSubjectBase, t)
}

// SubjectWildcard returns the subject filter matching all rollout events.
func SubjectWildcard() string {
	return rolloutSubjectBase + ".*"
}
