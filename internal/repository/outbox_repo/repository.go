package outbox_repo

import (
	"context"

	"reconciler/internal/domain"
)

type OutboxRepository interface {
	GetPendingMessagesTx(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	MarkMessagesAsSentTx(ctx context.Context, querier domain.Querier, ids []string) error
	MarkMessagesAsFailedTx(ctx context.Context, querier domain.Querier, ids []string, maxAttempts int) error
}
