package domain

import "time"

type RecoveryMethod string

const (
	RecoveryStoredSnapshot  RecoveryMethod = "stored_snapshot"
	RecoveryDatabaseDirect  RecoveryMethod = "database_direct"
	RecoveryOrderLookup     RecoveryMethod = "order_lookup"
	RecoveryPatternMatch    RecoveryMethod = "pattern_match"
	RecoveryTimestampWindow RecoveryMethod = "timestamp_window"
)

// RecoveryAttempt is an audit record; it never drives control flow.
type RecoveryAttempt struct {
	Reference string         `json:"reference"`
	Method    RecoveryMethod `json:"method"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// StoredPaymentRecord is the checkout snapshot persisted before redirecting
// to the processor.
type StoredPaymentRecord struct {
	Reference     string    `json:"reference"`
	OrderID       string    `json:"order_id"`
	Amount        int64     `json:"amount"`
	CustomerEmail string    `json:"customer_email"`
	CreatedAt     time.Time `json:"created_at"`
}
