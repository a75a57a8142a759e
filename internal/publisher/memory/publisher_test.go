package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsNotices(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "grammar-runs", map[string]int{"level": 5})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "grammar-runs", map[string]int{"level": 4})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, map[string]int{"level": 4}, msgs[1].Payload)

	msgs[0].Topic = "modified"
	require.Equal(t, "grammar-runs", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic not found"))
	_, err := pub.Publish(context.Background(), "grammar-runs", 1)
	require.EqualError(t, err, "topic not found")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "grammar-runs", 1)
	require.NoError(t, err)
}
