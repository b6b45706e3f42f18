// Package events publishes sync and account lifecycle notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/segmentio/kafka-go"
)

// SyncFinished describes the outcome of one sync run. It never carries provider payloads.
type SyncFinished struct {
	ConnectionID string          `json:"connection_id"`
	UserID       string          `json:"user_id"`
	Provider     domain.Provider `json:"provider"`
	Status       string          `json:"status"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Inserted     int             `json:"inserted"`
	Updated      int             `json:"updated"`
	Malformed    int             `json:"malformed"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// AccountPurged announces that every record of a user was erased
type AccountPurged struct {
	UserID   string    `json:"user_id"`
	PurgedAt time.Time `json:"purged_at"`
}

// Publisher emits lifecycle events
type Publisher interface {
	SyncFinished(ctx context.Context, event SyncFinished) error
	AccountPurged(ctx context.Context, event AccountPurged) error
	Close() error
}

// MessageWriter is satisfied by KafkaProducer
type MessageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes JSON events keyed by user id
type KafkaPublisher struct {
	writer     MessageWriter
	syncTopic  string
	purgeTopic string
}

// NewKafkaPublisher creates a publisher on top of writer
func NewKafkaPublisher(writer MessageWriter, syncTopic, purgeTopic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, syncTopic: syncTopic, purgeTopic: purgeTopic}
}

// SyncFinished publishes a sync outcome
func (p *KafkaPublisher) SyncFinished(ctx context.Context, event SyncFinished) error {
	return p.publish(ctx, p.syncTopic, event.UserID, "sync_finished", event)
}

// AccountPurged publishes an account erasure
func (p *KafkaPublisher) AccountPurged(ctx context.Context, event AccountPurged) error {
	return p.publish(ctx, p.purgeTopic, event.UserID, "account_purged", event)
}

// Close closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key, eventType string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
		Time: time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// NoopPublisher drops every event; used when no brokers are configured
type NoopPublisher struct{}

func (NoopPublisher) SyncFinished(context.Context, SyncFinished) error { return nil }

func (NoopPublisher) AccountPurged(context.Context, AccountPurged) error { return nil }

func (NoopPublisher) Close() error { return nil }
