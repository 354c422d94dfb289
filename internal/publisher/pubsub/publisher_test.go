package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	msg, err := newMessage(map[string]int{"pages_processed": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages_processed":3}`, string(msg.Data))
	assert.Equal(t, EventGathered, msg.Attributes[EventAttribute])
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := newMessage(make(chan int))
	assert.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), "x")
	assert.ErrorContains(t, err, "not configured")
	p.Stop()
}
