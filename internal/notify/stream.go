package notify

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// StreamNotifier publishes messages to a watermill topic.
type StreamNotifier struct {
	publisher message.Publisher
	topic     string
}

func NewStreamNotifier(publisher message.Publisher, topic string) *StreamNotifier {
	return &StreamNotifier{publisher: publisher, topic: topic}
}

// NewRedisStreamPublisher builds a watermill publisher over Redis streams.
func NewRedisStreamPublisher(rdb *redis.Client, logger watermill.LoggerAdapter) (message.Publisher, error) {
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("notify.NewRedisStreamPublisher: %w", err)
	}
	return publisher, nil
}

func (n *StreamNotifier) Notify(ctx context.Context, msg Message) error {
	const op = "notify.StreamNotifier.Notify"

	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	wm := message.NewMessage(watermill.NewUUID(), body)
	wm.Metadata.Set("kind", string(msg.Kind))
	wm.Metadata.Set("event_id", msg.EventID)
	wm.SetContext(ctx)

	if err := n.publisher.Publish(n.topic, wm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (n *StreamNotifier) Close() error {
	return n.publisher.Close()
}
