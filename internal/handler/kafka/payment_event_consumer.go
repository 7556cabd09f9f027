package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reconciler/internal/app/reconcile"
	"reconciler/internal/domain"
	kafka_infra "reconciler/internal/infrastructure/kafka"
)

// EventProcessor is the part of the reconcile service the consumer drives.
type EventProcessor interface {
	ProcessPaymentEvent(ctx context.Context, evt domain.PaymentEvent, meta reconcile.EventMeta, rawPayload []byte) error
}

// PaymentEventMessageHandler decodes processor webhooks and reconciles their
// reference. Undecodable messages and events parked in the inbox for
// redelivery are logged and committed.
func PaymentEventMessageHandler(processor EventProcessor, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt domain.PaymentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("Failed to unmarshal payment event",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if evt.Reference == "" && len(msg.Key) > 0 {
			evt.Reference = string(msg.Key)
		}

		logger.Info("Processing payment event",
			zap.String("event", evt.Event),
			zap.String("reference", evt.Reference),
			zap.Int64("offset", msg.Offset),
		)

		meta := reconcile.EventMeta{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
		if err := processor.ProcessPaymentEvent(ctx, evt, meta, msg.Value); err != nil {
			if errors.Is(err, reconcile.ErrEventDeferred) {
				logger.Warn("Payment event parked for inbox redelivery",
					zap.String("reference", evt.Reference), zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to process payment event %s for %s: %w", evt.Event, evt.Reference, err)
		}
		return nil
	}
}
