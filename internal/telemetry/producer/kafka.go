package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/monitor"
)

const writeTimeout = 5 * time.Second

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go. Events are keyed by client IP so
// one IP's events stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaProducer creates a producer writing to topic. Returns nil when brokers or topic is empty.
// Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

// Emit serializes e as JSON and writes it to the topic.
func (p *KafkaProducer) Emit(ctx context.Context, e event.Event) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.write(ctx, KindEvent, e.IP, e)
}

// SendAlert serializes a as JSON and writes it to the topic. Implements monitor.AlertSink.
func (p *KafkaProducer) SendAlert(ctx context.Context, a monitor.Alert) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.write(ctx, KindAlert, string(a.Type), a)
}

func (p *KafkaProducer) write(ctx context.Context, kind, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	msg := kafka.Message{
		Value:   payload,
		Headers: []kafka.Header{{Key: HeaderKind, Value: []byte(kind)}},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// MessageKind returns the kind header of msg, defaulting to KindEvent.
func MessageKind(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderKind {
			return string(h.Value)
		}
	}
	return KindEvent
}
