package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	pub := NewPublisher()

	id1, err := pub.Publish(context.Background(), "jobs.completed", []byte("a"))
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "jobs.failed", []byte("b"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "jobs.completed", msgs[0].Topic)
	require.Equal(t, []byte("a"), msgs[0].Payload)
	require.Equal(t, "jobs.failed", msgs[1].Topic)
}

func TestPublisherCopiesPayload(t *testing.T) {
	pub := NewPublisher()
	payload := []byte("original")

	_, err := pub.Publish(context.Background(), "t", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	require.Equal(t, "original", string(pub.Messages()[0].Payload))
}
