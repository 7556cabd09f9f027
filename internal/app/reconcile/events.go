package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reconciler/internal/domain"
	"reconciler/internal/util"
)

// ErrEventDeferred marks an event recorded FAILED in the inbox. The row is
// durable, so the message itself can be acknowledged.
var ErrEventDeferred = errors.New("payment event deferred to inbox redelivery")

// EventMeta locates a consumed message in its topic.
type EventMeta struct {
	Topic     string
	Partition int
	Offset    int64
}

// EventKey identifies a processor event across redeliveries.
func EventKey(evt domain.PaymentEvent) string {
	return strings.ToLower(strings.TrimSpace(evt.Event)) + ":" + strings.TrimSpace(evt.Reference)
}

// ProcessPaymentEvent reconciles the reference named by a processor webhook.
// The inbox row is held for the duration so a duplicate delivery waits and
// then sees PROCESSED. A verification that could not decide, or a verified
// payment whose order could not be confirmed, leaves the row FAILED and
// returns ErrEventDeferred; RedeliverFailedEvents picks such rows up again.
func (s *service) ProcessPaymentEvent(ctx context.Context, evt domain.PaymentEvent, meta EventMeta, rawPayload []byte) error {
	ref := strings.TrimSpace(evt.Reference)
	if ref == "" {
		s.logger.Warn("Skipping payment event without reference", zap.String("event", evt.Event))
		return nil
	}
	eventKey := EventKey(evt)
	logger := s.logger.With(zap.String("event_key", eventKey), zap.String("reference", ref))

	tx, err := s.txs.BeginTx(ctx)
	if err != nil {
		logger.Error("Failed to begin transaction for inbox", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while processing payment event, rolling back", zap.Any("panic", r))
			tx.Rollback()
			panic(r)
		}
	}()

	inboxMsg := &domain.InboxMessage{
		ID:             util.GenerateUUID(),
		EventKey:       eventKey,
		Reference:      ref,
		KafkaTopic:     meta.Topic,
		KafkaPartition: meta.Partition,
		KafkaOffset:    meta.Offset,
		Payload:        rawPayload,
		Status:         domain.InboxStatusNew,
		ReceivedAt:     time.Now(),
	}
	if err := s.inboxRepo.CreateMessageTx(ctx, tx, inboxMsg); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Failed to roll back inbox transaction", zap.Error(rbErr))
		}
		if errors.Is(err, domain.ErrMessageProcessed) {
			logger.Info("Payment event already processed")
			return nil
		}
		logger.Error("Failed to record payment event in inbox", zap.Error(err))
		return fmt.Errorf("failed to record payment event: %w", err)
	}

	res := s.VerifyPayment(ctx, evt.SessionID, ref)

	status := domain.InboxStatusProcessed
	var processErr error
	switch {
	case !res.Success && res.ErrorCode != domain.ErrorCodePaymentFailed:
		status = domain.InboxStatusFailed
		processErr = fmt.Errorf("%w: payment %s not reconciled: %s", ErrEventDeferred, ref, res.ErrorCode)
	case OrderConfirmationPending(res):
		status = domain.InboxStatusFailed
		processErr = fmt.Errorf("%w: payment %s verified but order %s not confirmed", ErrEventDeferred, ref, res.Data.OrderID)
	}

	if err := s.inboxRepo.UpdateStatusTx(ctx, tx, inboxMsg.ID, status); err != nil {
		logger.Error("Failed to update inbox status", zap.String("status", string(status)), zap.Error(err))
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Failed to roll back inbox transaction", zap.Error(rbErr))
		}
		return fmt.Errorf("failed to update inbox message %s: %w", inboxMsg.ID, err)
	}
	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit inbox transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if processErr != nil {
		logger.Warn("Payment event left for redelivery", zap.Error(processErr))
		return processErr
	}
	logger.Info("Payment event processed", zap.Bool("verified", res.Success))
	return nil
}

// RedeliverFailedEvents runs FAILED inbox rows through ProcessPaymentEvent
// again, at most limit of them, skipping rows already tried maxAttempts times.
// It returns how many were settled this round.
func (s *service) RedeliverFailedEvents(ctx context.Context, maxAttempts, limit int) (int, error) {
	tx, err := s.txs.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	failed, err := s.inboxRepo.GetFailedMessagesTx(ctx, tx, maxAttempts, limit)
	if rbErr := tx.Rollback(); rbErr != nil {
		s.logger.Warn("Failed to release inbox scan transaction", zap.Error(rbErr))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list failed inbox messages: %w", err)
	}

	settled := 0
	for _, msg := range failed {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		evt := eventFromInbox(msg)
		meta := EventMeta{Topic: msg.KafkaTopic, Partition: msg.KafkaPartition, Offset: msg.KafkaOffset}
		if err := s.ProcessPaymentEvent(ctx, evt, meta, msg.Payload); err != nil {
			s.logger.Warn("Redelivered payment event still failing",
				zap.String("event_key", msg.EventKey), zap.Int("attempts", msg.Attempts+1), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

// eventFromInbox rebuilds the event a row was recorded for. The reference and
// event name come from the row so the event key matches it.
func eventFromInbox(msg domain.InboxMessage) domain.PaymentEvent {
	var evt domain.PaymentEvent
	_ = json.Unmarshal(msg.Payload, &evt)
	evt.Reference = msg.Reference
	if name, ok := strings.CutSuffix(msg.EventKey, ":"+msg.Reference); ok {
		evt.Event = name
	}
	return evt
}

// EventRedeliverer is the part of the service RunRedelivery drives.
type EventRedeliverer interface {
	RedeliverFailedEvents(ctx context.Context, maxAttempts, limit int) (int, error)
}

// RunRedelivery sweeps FAILED inbox rows every interval until ctx is done.
func RunRedelivery(ctx context.Context, r EventRedeliverer, interval time.Duration, maxAttempts, batchSize int, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Inbox redelivery started", zap.Duration("interval", interval), zap.Int("max_attempts", maxAttempts))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Inbox redelivery stopped")
			return
		case <-ticker.C:
			n, err := r.RedeliverFailedEvents(ctx, maxAttempts, batchSize)
			if err != nil {
				logger.Error("Inbox redelivery sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Redelivered payment events", zap.Int("settled", n))
			}
		}
	}
}
