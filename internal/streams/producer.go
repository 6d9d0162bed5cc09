package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each stream. Notification events are consumed quickly by
// delivery services; submissions are kept longer for replay.
var streamMaxLen = map[string]int64{
	StreamNotificationEvents:   10000,
	StreamCandidateSubmissions: 50000,
}

// Publisher publishes engine events to Redis Streams
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	return &Publisher{rdb: client}, nil
}

// NewPublisherFromClient wraps an existing Redis client
func NewPublisherFromClient(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishNotification publishes a notification event to the stream
func (p *Publisher) PublishNotification(ctx context.Context, event NotificationEvent) (string, error) {
	return p.publish(ctx, StreamNotificationEvents, event)
}

// PublishCandidateSubmission publishes a candidate submission. The engine
// only consumes this stream; producing is used by tooling and tests.
func (p *Publisher) PublishCandidateSubmission(ctx context.Context, sub CandidateSubmission) (string, error) {
	return p.publish(ctx, StreamCandidateSubmissions, sub)
}

func (p *Publisher) publish(ctx context.Context, stream string, v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen[stream],
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload":        string(payload),
			"published_at":   time.Now().Unix(),
			"schema_version": SchemaVersionV1,
		},
	})

	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}

	return result.Val(), nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
