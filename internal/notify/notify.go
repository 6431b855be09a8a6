// Package notify delivers messages to users through the chat front end.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Button is a follow-up action offered with a message
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Options carries the optional parts of a message
type Options struct {
	ImageURLs   []string `json:"image_urls,omitempty"`
	DocumentURL string   `json:"document_url,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`
	Silent      bool     `json:"silent,omitempty"`
}

// Messenger sends a message to a chat
type Messenger interface {
	SendMessage(ctx context.Context, chatID, content string, opts Options) error
}

// OutboundMessage is the wire format consumed by the front end
type OutboundMessage struct {
	ChatID  string    `json:"chat_id"`
	Content string    `json:"content"`
	Options Options   `json:"options"`
	SentAt  time.Time `json:"sent_at"`
}

// Publisher is the broker surface RabbitMessenger needs
type Publisher interface {
	PublishToWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error
}

// RabbitMessenger publishes outbound messages to a RabbitMQ exchange
type RabbitMessenger struct {
	publisher  Publisher
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// NewRabbitMessenger creates a RabbitMessenger
func NewRabbitMessenger(publisher Publisher, exchange, routingKey string, logger *slog.Logger) *RabbitMessenger {
	return &RabbitMessenger{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (m *RabbitMessenger) SendMessage(ctx context.Context, chatID, content string, opts Options) error {
	body, err := json.Marshal(OutboundMessage{
		ChatID:  chatID,
		Content: content,
		Options: opts,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}

	if err := m.publisher.PublishToWithRetry(ctx, m.exchange, m.routingKey, body, "application/json"); err != nil {
		m.logger.Error("Failed to send message",
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
		return err
	}

	return nil
}

// LogMessenger writes messages to the log; used when no broker is configured
type LogMessenger struct {
	Logger *slog.Logger
}

func (m LogMessenger) SendMessage(ctx context.Context, chatID, content string, opts Options) error {
	m.Logger.InfoContext(ctx, "Outbound message",
		slog.String("chat_id", chatID),
		slog.String("content", content),
		slog.Int("images", len(opts.ImageURLs)),
		slog.String("document", opts.DocumentURL),
	)
	return nil
}

// MemoryMessenger records messages in order
type MemoryMessenger struct {
	mu       sync.Mutex
	messages []OutboundMessage
	// Err, when set, is returned by every SendMessage after recording
	Err error
}

func (m *MemoryMessenger) SendMessage(ctx context.Context, chatID, content string, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, OutboundMessage{ChatID: chatID, Content: content, Options: opts})
	return m.Err
}

// Messages returns a copy of the recorded messages
func (m *MemoryMessenger) Messages() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundMessage(nil), m.messages...)
}
