// Package notify publishes crown events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
)

// CrownPublisher announces newly crowned tokens.
type CrownPublisher interface {
	PublishCrown(ctx context.Context, ev *domain.CrownEvent) error
	Close() error
}

// NewCrownEvent builds an event for a token that was just awarded status.
func NewCrownEvent(key domain.TokenKey, status *domain.KingOfTheHill, marketCap decimal.Decimal) *domain.CrownEvent {
	return &domain.CrownEvent{
		EventID:   uuid.NewString(),
		TokenKey:  key.String(),
		Label:     status.Label,
		MarketCap: marketCap,
		CrownedAt: status.Timestamp,
	}
}

// KafkaConfig holds Kafka connection configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements CrownPublisher using Kafka. Events for the same
// token land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a producer for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// PublishCrown writes one event keyed by token.
func (p *KafkaPublisher) PublishCrown(ctx context.Context, ev *domain.CrownEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal crown event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TokenKey),
		Value: data,
		Time:  time.UnixMilli(ev.CrownedAt),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish crown %s: %w", ev.TokenKey, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishCrown(context.Context, *domain.CrownEvent) error { return nil }
func (Nop) Close() error                                           { return nil }

var (
	_ CrownPublisher = (*KafkaPublisher)(nil)
	_ CrownPublisher = Nop{}
)
