package inbox_repo

import (
	"context"

	"reconciler/internal/domain"
)

type InboxRepository interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) error
	UpdateStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error
	GetByEventKeyTx(ctx context.Context, querier domain.Querier, eventKey string) (*domain.InboxMessage, error)
	GetFailedMessagesTx(ctx context.Context, querier domain.Querier, maxAttempts, limit int) ([]domain.InboxMessage, error)
}
