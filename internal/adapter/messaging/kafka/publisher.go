package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timebank-escrow/config"
	"timebank-escrow/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Writer wraps the kafka.Writer methods the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationPublisher streams notifications to a Kafka topic keyed by user id,
// so one user's notifications stay ordered within a partition.
type NotificationPublisher struct {
	writer Writer
	topic  string
	log    zerolog.Logger
}

// NewNotificationPublisher wraps an existing writer.
func NewNotificationPublisher(writer Writer, topic string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{writer: writer, topic: topic, log: log}
}

// NewWriter builds a synchronous writer for the configured topic, creating the
// topic when the broker does not have it yet.
func NewWriter(cfg config.KafkaConfig, log zerolog.Logger) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	if err := ensureTopic(conn, cfg.Topic, log); err != nil {
		return nil, err
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}, nil
}

func ensureTopic(conn *kafka.Conn, topic string, log zerolog.Logger) error {
	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		return nil
	}

	log.Info().Str("topic", topic).Msg("creating kafka topic")
	if err := conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}); err != nil {
		return fmt.Errorf("create kafka topic %s: %w", topic, err)
	}
	return nil
}

// Name identifies the channel in dispatcher logs.
func (p *NotificationPublisher) Name() string {
	return "kafka"
}

// Deliver publishes one notification.
func (p *NotificationPublisher) Deliver(ctx context.Context, n *domain.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.UserID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(n.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.log.Debug().
		Str("topic", p.topic).
		Str("notification_id", n.ID.String()).
		Str("type", string(n.Type)).
		Msg("notification published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *NotificationPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
