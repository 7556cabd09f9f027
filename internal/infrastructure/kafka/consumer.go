package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reconciler/internal/retry"
)

// MessageHandler processes one message. A nil return commits its offset.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop()
}

type kafkaConsumer struct {
	reader  *kafka.Reader
	policy  retry.Policy
	logger  *zap.Logger
	topic   string
	groupID string
	cancel  context.CancelFunc
}

// NewConsumer reads topic as part of groupID. A failing handler is retried
// under policy, round after round, and the offset is committed only once it
// succeeds.
func NewConsumer(brokerURLs []string, groupID, topic string, policy retry.Policy, logger *zap.Logger) Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                brokerURLs,
		GroupID:                groupID,
		Topic:                  topic,
		MinBytes:               1,
		MaxBytes:               10e6,
		ReadBatchTimeout:       1 * time.Second,
		Logger:                 kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
		HeartbeatInterval:      3 * time.Second,
		CommitInterval:         0,
		PartitionWatchInterval: 5 * time.Second,
		MaxAttempts:            3,
	})

	policy.Operation = "handle_" + topic
	policy.ShouldRetry = func(err error) bool { return !errors.Is(err, context.Canceled) }
	policy.Logger = logger

	return &kafkaConsumer{
		reader:  reader,
		policy:  policy,
		logger:  logger,
		topic:   topic,
		groupID: groupID,
	}
}

func (c *kafkaConsumer) Start(ctx context.Context, handler MessageHandler) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	c.logger.Info("Kafka consumer starting", zap.String("topic", c.topic), zap.String("group_id", c.groupID))

	for {
		msg, err := c.reader.FetchMessage(consumerCtx)
		if err != nil {
			if consumerCtx.Err() != nil {
				c.logger.Info("Kafka consumer context cancelled, stopping reader")
				return c.reader.Close()
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		fields := []zap.Field{
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		}
		c.logger.Debug("Received Kafka message", fields...)

		if err := c.handle(consumerCtx, handler, msg, fields); err != nil {
			c.logger.Info("Kafka consumer context cancelled, stopping reader")
			return c.reader.Close()
		}

		if commitErr := c.reader.CommitMessages(consumerCtx, msg); commitErr != nil {
			c.logger.Error("Failed to commit offset for Kafka message", append(fields, zap.Error(commitErr))...)
		}
	}
}

// handle runs handler until it succeeds. The offset is only committed after
// success, so a failing message holds its partition instead of being passed
// over. It returns an error only when ctx is done.
func (c *kafkaConsumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message, fields []zap.Field) error {
	for round := 1; ; round++ {
		_, err := retry.WithBackoff(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, handler(ctx, msg)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("Error handling Kafka message, retrying before commit",
			append(fields, zap.Int("round", round), zap.Error(err))...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.policy.Delay(max(c.policy.MaxAttempts, 1))):
		}
	}
}

func (c *kafkaConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Kafka consumer stop signal sent")
}
