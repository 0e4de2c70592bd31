package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Authentication event types.
const (
	EventUserRegistered  = "user.registered"
	EventUserLogin       = "user.login"
	EventLoginFailed     = "user.login_failed"
	EventUserLocked      = "user.locked"
	EventUserLogout      = "user.logout"
	EventPasswordChanged = "user.password_changed"
	EventMFAEnabled      = "user.mfa_enabled"
	EventMFADisabled     = "user.mfa_disabled"
)

// Event is the JSON payload published for each authentication event.
type Event struct {
	Type       string            `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EventPublisher ships auth events to downstream consumers. Publish never
// fails the caller; delivery problems are logged.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by user ID.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher builds an async writer; WriteMessages returns as soon as
// messages are queued and delivery errors surface through Completion.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Printf("⚠️ Failed to deliver %d auth event(s): %v", len(messages), err)
			}
		},
	}
	log.Printf("Kafka event publisher created for topic %s", topic)
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ Failed to encode auth event %s: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		log.Printf("⚠️ Failed to publish auth event %s: %v", event.Type, err)
	}
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

func (NopPublisher) Close() error { return nil }

// NewEventPublisher picks Kafka when brokers are configured.
func NewEventPublisher(brokers []string, topic string) EventPublisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
