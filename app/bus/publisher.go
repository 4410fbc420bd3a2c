package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sieve/app/backoff"
	"github.com/lysyi3m/rss-sieve/app/feed"
)

var ErrTransport = errors.New("bus transport error")

// Client writes one payload to a topic. Messages sharing a key keep their order.
type Client interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

type Publisher struct {
	client Client
	topic  string
	retry  backoff.Policy
}

func NewPublisher(client Client, topic string, retry backoff.Policy) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		retry:  retry,
	}
}

// Publish emits the entry keyed by its feed ID, retrying transport errors.
// A nil return means the bus acknowledged the message.
func (p *Publisher) Publish(ctx context.Context, entry feed.Entry) error {
	payload, err := NewMessage(entry, time.Now()).Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	err = backoff.Retry(ctx, p.retry, isTransportError, func(ctx context.Context, attempt int) error {
		err := p.client.Publish(ctx, p.topic, entry.FeedID, payload)
		if err != nil {
			slog.Debug("Publish attempt failed", "feed", entry.FeedID, "identity_key", entry.IdentityKey, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish entry: %w", err)
	}

	return nil
}

func (p *Publisher) Topic() string {
	return p.topic
}

func isTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
