package orders_repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"reconciler/internal/domain"
)

type orderRepository struct {
	db domain.Querier
}

func NewOrderRepository(db domain.Querier) *orderRepository {
	return &orderRepository{db: db}
}

// GetByPaymentReference checks the current payment_reference column and the
// legacy paystack_reference column.
func (r *orderRepository) GetByPaymentReference(ctx context.Context, ref string) (domain.OrderRef, error) {
	query := `
		SELECT id, order_number, status, payment_status, COALESCE(payment_reference, ''),
		       COALESCE(paystack_reference, ''), total_amount, COALESCE(customer_email, ''), created_at
		FROM orders
		WHERE payment_reference = $1 OR paystack_reference = $1
		ORDER BY (payment_reference = $1) DESC, created_at DESC
		LIMIT 1
	`
	var o domain.OrderRef
	err := r.db.QueryRowContext(ctx, query, ref).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentReference,
		&o.PaystackRef,
		&o.TotalAmount,
		&o.CustomerEmail,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderRef{}, domain.ErrOrderNotFound
		}
		return domain.OrderRef{}, fmt.Errorf("failed to get order by payment reference %s: %w", ref, err)
	}
	return o, nil
}

// UpdateStatusBulletproof calls admin_update_order_status_bulletproof once and
// decodes its result object. Procedure-level failures come back in the result;
// the error is only set when the call itself failed.
func (r *orderRepository) UpdateStatusBulletproof(ctx context.Context, orderID string, status domain.OrderStatus, adminID, paymentRef string) (domain.BulletproofResult, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT admin_update_order_status_bulletproof($1, $2, $3, $4)`,
		orderID, string(status), nullable(adminID), nullable(paymentRef),
	).Scan(&raw)
	if err != nil {
		return domain.BulletproofResult{}, fmt.Errorf("failed to call status procedure for order %s: %w", orderID, err)
	}

	var res domain.BulletproofResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.BulletproofResult{}, fmt.Errorf("failed to decode status procedure result for order %s: %w", orderID, err)
	}
	return res, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
