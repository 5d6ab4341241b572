package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "harvest.runs", map[string]string{"source": "announcements"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "harvest.runs", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "harvest.runs", msgs[0].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "harvest.runs", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestFailNext(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailNext = boom

	_, err := pub.Publish(context.Background(), "harvest.runs", "x")
	require.ErrorIs(t, err, boom)

	_, err = pub.Publish(context.Background(), "harvest.runs", "x")
	require.NoError(t, err, "failure injection is one-shot")
	assert.Len(t, pub.Messages(), 1)
}
