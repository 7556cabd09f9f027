package transactions_repo

import (
	"context"
	"time"

	"reconciler/internal/domain"
)

type TransactionRepository interface {
	GetByProviderReference(ctx context.Context, ref string) (domain.PaymentTransaction, error)
	GetByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error)
	SearchByReferenceFragments(ctx context.Context, fragments []string, limit int) ([]domain.PaymentTransaction, error)
	ListSettledNear(ctx context.Context, center time.Time, window time.Duration, limit int) ([]domain.PaymentTransaction, error)
}
