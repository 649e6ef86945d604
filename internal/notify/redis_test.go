package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

// pipelineCapture answers pipelines itself, so the client never dials.
type pipelineCapture struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *pipelineCapture) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (c *pipelineCapture) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (c *pipelineCapture) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, cmd := range cmds {
			args := cmd.Args()
			if cmd.Name() != "publish" || len(args) != 3 {
				continue
			}
			channel, _ := args[1].(string)
			payload, _ := args[2].([]byte)
			c.sent = append(c.sent, published{channel: channel, payload: payload})
		}
		return c.err
	}
}

func newCapturedPublisher(t *testing.T) (*RedisPublisher, *pipelineCapture) {
	t.Helper()
	capture := &pipelineCapture{}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(capture)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPublisherWithClient(client, "qms.tokens"), capture
}

func TestRedisPublisherSendsGlobalAndBranchCopies(t *testing.T) {
	publisher, capture := newCapturedPublisher(t)

	event := Event{Type: EventTokenCreated, BranchID: "b1", ServiceID: "s1"}
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Len(t, capture.sent, 2)
	assert.Equal(t, "qms.tokens", capture.sent[0].channel)
	assert.Equal(t, "qms.tokens.b1", capture.sent[1].channel)
	assert.Equal(t, capture.sent[0].payload, capture.sent[1].payload)

	var decoded Event
	require.NoError(t, json.Unmarshal(capture.sent[0].payload, &decoded))
	assert.Equal(t, EventTokenCreated, decoded.Type)
	assert.Equal(t, "b1", decoded.BranchID)
}

func TestRedisPublisherSkipsBranchChannelWithoutBranch(t *testing.T) {
	publisher, capture := newCapturedPublisher(t)

	require.NoError(t, publisher.Publish(context.Background(), Event{Type: EventSeriesReset}))

	require.Len(t, capture.sent, 1)
	assert.Equal(t, "qms.tokens", capture.sent[0].channel)
}

func TestRedisPublisherReturnsPipelineError(t *testing.T) {
	publisher, capture := newCapturedPublisher(t)
	capture.err = errors.New("connection reset")

	err := publisher.Publish(context.Background(), Event{Type: EventTokenServing, BranchID: "b1"})
	assert.EqualError(t, err, "connection reset")
}

func TestRedisPublisherDefaultChannel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	publisher := NewRedisPublisherWithClient(client, "")
	assert.Equal(t, "qms.tokens", publisher.channel)
}
