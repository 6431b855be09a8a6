package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	exchange   string
	routingKey string
	body       []byte
	err        error
}

func (f *fakePublisher) PublishToWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error {
	f.exchange = exchange
	f.routingKey = routingKey
	f.body = body
	return f.err
}

func TestRabbitMessenger_SendMessage(t *testing.T) {
	pub := &fakePublisher{}
	m := NewRabbitMessenger(pub, "brandgen.notifications", "chat.message", logger.NewNop())

	err := m.SendMessage(context.Background(), "chat-1", "Your logos are ready", Options{
		ImageURLs: []string{"mem://a.png", "mem://b.png"},
		Buttons:   []Button{{Label: "Build brand kit", Action: "package"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "brandgen.notifications", pub.exchange)
	assert.Equal(t, "chat.message", pub.routingKey)

	var msg OutboundMessage
	require.NoError(t, json.Unmarshal(pub.body, &msg))
	assert.Equal(t, "chat-1", msg.ChatID)
	assert.Equal(t, "Your logos are ready", msg.Content)
	assert.Len(t, msg.Options.ImageURLs, 2)
	assert.Equal(t, "package", msg.Options.Buttons[0].Action)
	assert.False(t, msg.SentAt.IsZero())
}

func TestRabbitMessenger_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	m := NewRabbitMessenger(pub, "x", "y", logger.NewNop())

	assert.Error(t, m.SendMessage(context.Background(), "chat-1", "hi", Options{}))
}

func TestMemoryMessenger(t *testing.T) {
	m := &MemoryMessenger{}
	require.NoError(t, m.SendMessage(context.Background(), "c", "one", Options{}))
	require.NoError(t, m.SendMessage(context.Background(), "c", "two", Options{Silent: true}))

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.True(t, msgs[1].Options.Silent)
}

func TestLogMessenger(t *testing.T) {
	assert.NoError(t, LogMessenger{Logger: logger.NewNop()}.SendMessage(context.Background(), "c", "hi", Options{}))
}
