package domain

import (
	"context"
	"database/sql"
	"time"
)

// Querier lets repositories run against either *sql.DB or *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PaymentTransaction is a row of payment_transactions, optionally joined to its order.
type PaymentTransaction struct {
	ID                string
	ProviderReference string
	OrderID           string
	OrderNumber       string
	Status            string
	Amount            int64
	Currency          string
	Channel           string
	CustomerEmail     string
	Metadata          map[string]any
	PaidAt            *time.Time
	CreatedAt         time.Time
}
