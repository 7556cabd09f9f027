// Package outbox relays notifications enqueued by the order status procedure
// to Kafka.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/domain"
	kafka_infra "reconciler/internal/infrastructure/kafka"
	"reconciler/internal/repository/outbox_repo"
)

const (
	DefaultBatchSize   = 20
	DefaultMaxAttempts = 10
)

type Processor struct {
	db            *sql.DB
	outboxRepo    outbox_repo.OutboxRepository
	kafkaProducer kafka_infra.Producer
	topic         string
	pollInterval  time.Duration
	pollTimeout   time.Duration
	batchSize     int
	maxAttempts   int
	logger        *zap.Logger
	done          chan struct{}
	stopOnce      sync.Once
}

func NewProcessor(
	db *sql.DB,
	outboxRepo outbox_repo.OutboxRepository,
	kafkaProducer kafka_infra.Producer,
	topic string,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:            db,
		outboxRepo:    outboxRepo,
		kafkaProducer: kafkaProducer,
		topic:         topic,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		batchSize:     DefaultBatchSize,
		maxAttempts:   DefaultMaxAttempts,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Start polls until ctx is cancelled or Stop is called. It blocks.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor", zap.String("topic", p.topic), zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped")
			return
		case <-p.done:
			p.logger.Info("Outbox processor stopped")
			return
		case <-ticker.C:
			p.processOutboxMessages(ctx)
		}
	}
}

func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *Processor) processOutboxMessages(ctx context.Context) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		p.logger.Error("Failed to begin outbox transaction", zap.Error(err))
		return
	}
	defer tx.Rollback()

	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	messages, err := p.outboxRepo.GetPendingMessagesTx(queryCtx, tx, p.batchSize)
	cancel()
	if err != nil {
		p.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	sent, failed := p.publish(ctx, messages)

	if err := p.outboxRepo.MarkMessagesAsSentTx(ctx, tx, sent); err != nil {
		p.logger.Error("Failed to mark outbox messages as sent", zap.Error(err))
		return
	}
	if err := p.outboxRepo.MarkMessagesAsFailedTx(ctx, tx, failed, p.maxAttempts); err != nil {
		p.logger.Error("Failed to record outbox delivery failures", zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Error("Failed to commit outbox transaction", zap.Error(err))
		return
	}
	p.logger.Info("Outbox batch relayed", zap.Int("sent", len(sent)), zap.Int("failed", len(failed)))
}

// publish sends each message keyed by order id so one order's notifications
// stay ordered on a partition.
func (p *Processor) publish(ctx context.Context, messages []domain.OutboxMessage) (sent, failed []string) {
	for _, msg := range messages {
		payload, err := BuildNotification(msg)
		if err != nil {
			p.logger.Error("Failed to build order notification", zap.String("message_id", msg.ID), zap.Error(err))
			failed = append(failed, msg.ID)
			continue
		}
		if err := p.kafkaProducer.Produce(ctx, msg.OrderID, p.topic, payload); err != nil {
			p.logger.Warn("Failed to relay order notification",
				zap.String("message_id", msg.ID), zap.String("order_id", msg.OrderID), zap.Int("attempts", msg.Attempts+1), zap.Error(err))
			failed = append(failed, msg.ID)
			continue
		}
		sent = append(sent, msg.ID)
	}
	return sent, failed
}

// BuildNotification renders the Kafka payload for an outbox row.
func BuildNotification(msg domain.OutboxMessage) ([]byte, error) {
	n := domain.OrderNotification{
		NotificationID: msg.ID,
		OrderID:        msg.OrderID,
		Status:         string(msg.Status),
		Timestamp:      msg.CreatedAt.UTC(),
	}
	if len(msg.Payload) > 0 {
		if !json.Valid(msg.Payload) {
			return nil, fmt.Errorf("outbox message %s has an invalid payload", msg.ID)
		}
		n.Payload = json.RawMessage(msg.Payload)
	}
	return json.Marshal(n)
}
