package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/meeting-processor/internal/testutil"
)

func TestRedisStatusChannel_PublishSubscribe(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	channel := NewRedisStatusChannel(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := channel.Subscribe(ctx, "meeting_updates")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, channel.Publish(ctx, "meeting_updates", []byte(`{"job_id":"j1"}`)))

	payload, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(payload))
}

func TestRedisStatusChannel_RejectsEmptyTopic(t *testing.T) {
	channel := NewRedisStatusChannel(nil)

	assert.Error(t, channel.Publish(context.Background(), "", nil))
	_, err := channel.Subscribe(context.Background(), "")
	assert.Error(t, err)
}
