// Package events publishes transaction notifications to downstream systems.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// TypeTransactionRecorded is the event_type header of ledger events.
const TypeTransactionRecorded = "transaction.recorded"

// Publisher announces ledger appends. Failures never roll back the ledger.
type Publisher interface {
	PublishTransaction(ctx context.Context, tx *domain.Transaction) error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

// PublishTransaction implements Publisher.
func (Noop) PublishTransaction(context.Context, *domain.Transaction) error { return nil }

// Producer is the subset of *kafka.Writer used by Kafka.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes one message per transaction, keyed by user id so a user's
// events stay ordered within a partition.
type Kafka struct {
	producer Producer
	topic    string
}

// NewKafka returns a Kafka publisher writing to topic.
func NewKafka(producer Producer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

// NewWriter returns a kafka writer for brokers requiring acks from all
// in-sync replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// PublishTransaction implements Publisher.
func (k *Kafka) PublishTransaction(ctx context.Context, tx *domain.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(TypeTransactionRecorded)}}
	headers = injectHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   k.topic,
		Key:     []byte(tx.UserID),
		Value:   payload,
		Headers: headers,
		Time:    tx.CreatedAt,
	}
	if err := k.producer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("tx_id", tx.ID).Msg("transaction event publish failed")
		return err
	}
	log.Debug().Str("tx_id", tx.ID).Str("topic", k.topic).Msg("transaction event published")
	return nil
}

// injectHeaders appends the W3C trace context of ctx to headers.
func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
