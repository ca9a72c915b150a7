package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetroll/fleetroll/internal/model"
	"github.com/fleetroll/fleetroll/internal/testutil"
)

func TestNATSPublisher(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger, _ := zap.NewDevelopment()

	// Setup
	pub, err := NewNATS(js, logger)
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForStream(t, js, rolloutStreamName, 5*time.Second))

	t.Run("Creating the publisher twice reuses the stream", func(t *testing.T) {
		_, err := NewNATS(js, logger)
		require.NoError(t, err)
	})

	t.Run("Events round-trip through JetStream", func(t *testing.T) {
		sent := Event{
			RolloutID: "r1",
			Type:      TypeHostTransition,
			Batch:     2,
			Group:     "nginx",
			HostID:    "web-1",
			From:      model.StageRestarting,
			To:        model.StageAwaitingHealth,
			Attempt:   1,
			Timestamp: time.Now().UTC(),
		}
		pub.Publish(sent)

		messages, err := testutil.ConsumeMessages(js, Subject(TypeHostTransition), 3*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var got Event
		require.NoError(t, json.Unmarshal(messages[0], &got))
		assert.Equal(t, sent.RolloutID, got.RolloutID)
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, sent.Batch, got.Batch)
		assert.Equal(t, sent.HostID, got.HostID)
		assert.Equal(t, sent.From, got.From)
		assert.Equal(t, sent.To, got.To)
		assert.Equal(t, sent.Attempt, got.Attempt)
	})

	t.Run("Subjects separate event types", func(t *testing.T) {
		pub.Publish(Event{RolloutID: "r2", Type: TypeRolloutAborted, Error: "threshold breached"})

		messages, err := testutil.ConsumeMessages(js, Subject(TypeRolloutAborted), 3*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var got Event
		require.NoError(t, json.Unmarshal(messages[0], &got))
		assert.Equal(t, TypeRolloutAborted, got.Type)
		assert.Equal(t, "threshold breached", got.Error)
	})
}
