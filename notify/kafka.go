package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

// DefaultKafkaTopic is the topic notifications go to.
const DefaultKafkaTopic = "funds.notifications"

// MessageWriter is the slice of *kafka.Writer this adapter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one message per notification. Messages are keyed by
// recipient so one customer's notifications stay ordered in a partition.
type Kafka struct {
	writer MessageWriter
}

func NewKafka(writer MessageWriter) *Kafka {
	return &Kafka{writer: writer}
}

// NewKafkaWriter builds a writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

func (k *Kafka) Notify(ctx context.Context, n ledger.Notification) error {
	ev, payload, err := encode(n)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(n.Recipient),
		Value: payload,
		Time:  n.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "priority", Value: []byte(n.Priority)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ ledger.Notifier = (*Kafka)(nil)
