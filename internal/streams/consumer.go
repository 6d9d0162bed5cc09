package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// reclaimIdle is how long a delivered but unacknowledged message waits
// before another consumer picks it up again.
const reclaimIdle = time.Minute

// SubmissionConsumer consumes candidate submissions from Redis Streams
type SubmissionConsumer struct {
	rdb          *redis.Client
	groupName    string
	consumerName string
	logger       *slog.Logger
	lastReclaim  time.Time
}

// NewSubmissionConsumer creates a consumer and its group if missing
func NewSubmissionConsumer(redisURL, consumerName string, logger *slog.Logger) (*SubmissionConsumer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Read timeout must exceed the XReadGroup Block duration (5s)
	// to avoid spurious i/o timeout errors on idle streams.
	opts.ReadTimeout = 10 * time.Second

	return newSubmissionConsumer(context.Background(), redis.NewClient(opts), consumerName, logger)
}

func newSubmissionConsumer(ctx context.Context, client *redis.Client, consumerName string, logger *slog.Logger) (*SubmissionConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Start ID "0" means read from beginning if group is new
	err := client.XGroupCreateMkStream(ctx, StreamCandidateSubmissions, GroupAdjustmentEngine, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &SubmissionConsumer{
		rdb:          client,
		groupName:    GroupAdjustmentEngine,
		consumerName: consumerName,
		logger:       logger,
	}, nil
}

// Consume runs a blocking loop handing each submission to handler. Messages
// whose handler fails stay pending and are reclaimed after reclaimIdle.
func (c *SubmissionConsumer) Consume(ctx context.Context, handler func(context.Context, CandidateSubmission) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(c.lastReclaim) >= reclaimIdle {
			c.reclaim(ctx, handler)
			c.lastReclaim = time.Now()
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupName,
			Consumer: c.consumerName,
			Streams:  []string{StreamCandidateSubmissions, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err == redis.Nil {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Blocking reads return a timeout when no messages arrive
			// within the Block duration. Not an error.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.logger.Error("Failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.process(ctx, message, handler)
			}
		}
	}
}

func (c *SubmissionConsumer) reclaim(ctx context.Context, handler func(context.Context, CandidateSubmission) error) {
	messages, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamCandidateSubmissions,
		Group:    c.groupName,
		Consumer: c.consumerName,
		MinIdle:  reclaimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("Failed to reclaim pending submissions", "error", err)
		return
	}
	for _, message := range messages {
		c.process(ctx, message, handler)
	}
}

func (c *SubmissionConsumer) process(ctx context.Context, message redis.XMessage, handler func(context.Context, CandidateSubmission) error) {
	sub, err := DecodeSubmission(message.Values)
	if err != nil {
		// A malformed message never becomes valid; ack it so it is not redelivered
		c.logger.Error("Dropping malformed submission", "error", err, "message_id", message.ID)
		c.ack(ctx, message.ID)
		return
	}

	if err := handler(ctx, sub); err != nil {
		c.logger.Error("Handler failed", "error", err, "message_id", message.ID, "submission_id", sub.SubmissionID)
		return
	}

	c.ack(ctx, message.ID)
}

func (c *SubmissionConsumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, StreamCandidateSubmissions, c.groupName, id).Err(); err != nil {
		c.logger.Error("Failed to ACK message", "error", err, "message_id", id)
	}
}

// DecodeSubmission extracts a CandidateSubmission from stream message values
func DecodeSubmission(values map[string]interface{}) (CandidateSubmission, error) {
	var sub CandidateSubmission
	payloadStr, ok := values["payload"].(string)
	if !ok {
		return sub, fmt.Errorf("message has no payload field")
	}
	if version, ok := values["schema_version"].(string); ok && version != SchemaVersionV1 {
		return sub, fmt.Errorf("unsupported schema version %q", version)
	}
	if err := json.Unmarshal([]byte(payloadStr), &sub); err != nil {
		return sub, fmt.Errorf("failed to unmarshal submission: %w", err)
	}
	return sub, nil
}

// Close closes the Redis client connection
func (c *SubmissionConsumer) Close() error {
	return c.rdb.Close()
}

// StartSubmissionConsumer starts the consumer in a background goroutine and
// returns a stop function that waits for the loop to exit
func StartSubmissionConsumer(redisURL, consumerName string, submitter Submitter, logger *slog.Logger) (stop func(), err error) {
	consumer, err := NewSubmissionConsumer(redisURL, consumerName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := consumer.Consume(ctx, HandleCandidateSubmission(submitter, consumer.logger)); err != nil {
			if !errors.Is(err, context.Canceled) {
				consumer.logger.Error("Submission consumer stopped with error", "error", err)
			}
		}
	}()

	consumer.logger.Info("Submission consumer started", "consumer", consumerName)

	return func() {
		cancel()
		<-done
		consumer.Close()
	}, nil
}
