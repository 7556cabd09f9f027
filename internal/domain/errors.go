package domain

import "errors"

// ErrorCode is the failure taxonomy surfaced to callers.
type ErrorCode string

const (
	ErrorCodeNetwork            ErrorCode = "network"
	ErrorCodeTimeout            ErrorCode = "timeout"
	ErrorCodeAuth               ErrorCode = "auth_failed"
	ErrorCodeValidation         ErrorCode = "validation_failed"
	ErrorCodeRateLimited        ErrorCode = "rate_limited"
	ErrorCodeLockConflict       ErrorCode = "lock_conflict"
	ErrorCodeDuplicateKey       ErrorCode = "duplicate_key"
	ErrorCodeNotFound           ErrorCode = "not_found"
	ErrorCodeServer             ErrorCode = "server_error"
	ErrorCodeServiceUnavailable ErrorCode = "service_unavailable"
	ErrorCodePaymentFailed      ErrorCode = "payment_failed"
	ErrorCodeUnknown            ErrorCode = "unknown"
)

var (
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidReference    = errors.New("invalid payment reference")
	ErrInvalidOrderStatus  = errors.New("invalid order status")
	ErrSnapshotExists      = errors.New("checkout snapshot already stored for this attempt")
	ErrNoCheckout          = errors.New("no checkout in progress")
	ErrMessageProcessed    = errors.New("inbox message already processed")
	ErrSessionRequired     = errors.New("session id is required")
	ErrInvalidAmount       = errors.New("amount must be positive")
)
