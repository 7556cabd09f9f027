package reconcile

import (
	"context"
	"database/sql"

	"reconciler/internal/domain"
)

// Tx is the slice of *sql.Tx the inbox flow needs.
type Tx interface {
	domain.Querier
	Commit() error
	Rollback() error
}

// TxBeginner opens the transaction an inbox row is held in.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

type sqlTxBeginner struct {
	db *sql.DB
}

// NewSQLTxBeginner adapts a *sql.DB to TxBeginner.
func NewSQLTxBeginner(db *sql.DB) TxBeginner {
	return sqlTxBeginner{db: db}
}

func (b sqlTxBeginner) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
