package transactions_repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"reconciler/internal/domain"
)

const selectTransaction = `
	SELECT t.id, t.provider_reference, COALESCE(t.order_id, ''), COALESCE(o.order_number, ''),
	       t.status, t.amount, t.currency, COALESCE(t.channel, ''),
	       COALESCE(t.customer_email, o.customer_email, ''), t.metadata, t.paid_at, t.created_at
	FROM payment_transactions t
	LEFT JOIN orders o ON o.id = t.order_id
`

type transactionRepository struct {
	db domain.Querier
}

func NewTransactionRepository(db domain.Querier) *transactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) GetByProviderReference(ctx context.Context, ref string) (domain.PaymentTransaction, error) {
	row := r.db.QueryRowContext(ctx, selectTransaction+`WHERE t.provider_reference = $1`, ref)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
		}
		return domain.PaymentTransaction{}, fmt.Errorf("failed to get transaction by reference %s: %w", ref, err)
	}
	return tx, nil
}

func (r *transactionRepository) GetByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	query := selectTransaction + `
		WHERE t.order_id = $1
		ORDER BY (t.status IN ('success', 'paid')) DESC, t.created_at DESC
		LIMIT 1
	`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
		}
		return domain.PaymentTransaction{}, fmt.Errorf("failed to get transaction by order id %s: %w", orderID, err)
	}
	return tx, nil
}

// SearchByReferenceFragments returns transactions whose reference contains,
// or is contained by, any of the fragments. Newest first.
func (r *transactionRepository) SearchByReferenceFragments(ctx context.Context, fragments []string, limit int) ([]domain.PaymentTransaction, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(fragments))
	for i, f := range fragments {
		lowered[i] = strings.ToLower(f)
	}

	query := selectTransaction + `
		WHERE EXISTS (
			SELECT 1 FROM unnest($1::text[]) AS f(fragment)
			WHERE strpos(lower(t.provider_reference), f.fragment) > 0
			   OR strpos(f.fragment, lower(t.provider_reference)) > 0
		)
		ORDER BY t.created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(lowered), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search transactions by fragment: %w", err)
	}
	return collect(rows)
}

const listSettledNearQuery = selectTransaction + `
	WHERE t.created_at BETWEEN $1::timestamptz - make_interval(secs => $2)
	                       AND $1::timestamptz + make_interval(secs => $2)
	  AND lower(t.status) = ANY($3)
	ORDER BY abs(extract(epoch FROM t.created_at - $1::timestamptz)) ASC
	LIMIT $4
`

// ListSettledNear returns settled transactions created within window of
// center, closest first.
func (r *transactionRepository) ListSettledNear(ctx context.Context, center time.Time, window time.Duration, limit int) ([]domain.PaymentTransaction, error) {
	rows, err := r.db.QueryContext(ctx, listSettledNearQuery,
		center, window.Seconds(), pq.Array(domain.SettledStatusSpellings()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled transactions near %s: %w", center, err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (domain.PaymentTransaction, error) {
	var (
		tx       domain.PaymentTransaction
		metadata []byte
		paidAt   sql.NullTime
	)
	err := s.Scan(
		&tx.ID,
		&tx.ProviderReference,
		&tx.OrderID,
		&tx.OrderNumber,
		&tx.Status,
		&tx.Amount,
		&tx.Currency,
		&tx.Channel,
		&tx.CustomerEmail,
		&metadata,
		&paidAt,
		&tx.CreatedAt,
	)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if paidAt.Valid {
		tx.PaidAt = &paidAt.Time
	}
	tx.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return domain.PaymentTransaction{}, fmt.Errorf("failed to decode metadata of transaction %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

func collect(rows *sql.Rows) ([]domain.PaymentTransaction, error) {
	defer rows.Close()

	var out []domain.PaymentTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}
