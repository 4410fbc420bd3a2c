package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var _ Client = (*KafkaClient)(nil)

type KafkaClient struct {
	writer *kafka.Writer
}

func NewKafkaClient(brokers []string) (*KafkaClient, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &KafkaClient{writer: writer}, nil
}

func (c *KafkaClient) Publish(ctx context.Context, topic, key string, payload []byte) error {
	err := c.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: kafka: %w", ErrTransport, err)
	}
	return nil
}

func (c *KafkaClient) Health() map[string]interface{} {
	stats := c.writer.Stats()
	return map[string]interface{}{
		"type":     "kafka",
		"messages": stats.Messages,
		"errors":   stats.Errors,
		"retries":  stats.Retries,
	}
}

func (c *KafkaClient) Close() error {
	return c.writer.Close()
}
