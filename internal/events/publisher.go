package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Envelope is the broker-side event record mirroring gateway activity
// ARCHITECTURAL DISCOVERY: Live WebSocket fan-out and broker publishing are
// independent - a broker outage never blocks the conversation path
type Envelope struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher mirrors gateway events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, envelope Envelope) error
	Close() error
}

// rmqPublisher publishes to a durable topic exchange.
type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewPublisher connects to the broker and declares the topic exchange.
func NewPublisher(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, envelope Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now()
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    envelope.ID,
			Timestamp:    envelope.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		log.Printf("Failed to publish %s to %s: %v", key, r.exchange, err)
	}
	return err
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// NoopPublisher drops events, used when broker mirroring is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, key string, envelope Envelope) error { return nil }
func (NoopPublisher) Close() error                                                     { return nil }
