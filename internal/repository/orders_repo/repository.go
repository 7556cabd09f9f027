package orders_repo

import (
	"context"

	"reconciler/internal/domain"
)

type OrderRepository interface {
	GetByPaymentReference(ctx context.Context, ref string) (domain.OrderRef, error)
	UpdateStatusBulletproof(ctx context.Context, orderID string, status domain.OrderStatus, adminID, paymentRef string) (domain.BulletproofResult, error)
}
