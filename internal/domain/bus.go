package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (default tier) or NATS (pro tier).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (default tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the quoting pipeline.
const (
	TopicQuoteCreated       = "merlin.quote.created"
	TopicBasketItemAdded    = "merlin.basket.item.added"
	TopicBasketItemRemoved  = "merlin.basket.item.removed"
	TopicBasketRated        = "merlin.basket.rated"
	TopicDiagnosticRecorded = "merlin.diagnostic.recorded"
)

// BasketEvent is the payload published on basket topics.
type BasketEvent struct {
	BasketID string `json:"basket_id"`
	DeviceID string `json:"device_id,omitempty"`
}
