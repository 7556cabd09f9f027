package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusReturned       OrderStatus = "returned"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:        {},
	OrderStatusConfirmed:      {},
	OrderStatusPreparing:      {},
	OrderStatusReady:          {},
	OrderStatusOutForDelivery: {},
	OrderStatusDelivered:      {},
	OrderStatusCompleted:      {},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
	OrderStatusReturned:       {},
}

func (s OrderStatus) Valid() bool {
	_, ok := validOrderStatuses[s]
	return ok
}

// OrderRef is the slice of an order row this service reads. Orders are owned
// by the database; this service only requests transitions.
type OrderRef struct {
	ID               string
	OrderNumber      string
	Status           OrderStatus
	PaymentStatus    string
	PaymentReference string
	PaystackRef      string
	TotalAmount      int64
	CustomerEmail    string
	CreatedAt        time.Time
}

// EmailQueued reports whether the status procedure enqueued a notification.
type EmailQueued struct {
	Success      bool `json:"success"`
	Deduplicated bool `json:"deduplicated"`
}

// BulletproofResult mirrors the response of admin_update_order_status_bulletproof.
type BulletproofResult struct {
	Success           bool           `json:"success"`
	Order             map[string]any `json:"order,omitempty"`
	Error             string         `json:"error,omitempty"`
	ErrorCode         ErrorCode      `json:"error_code,omitempty"`
	Message           string         `json:"message,omitempty"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	RecoveryActions   []string       `json:"recovery_actions,omitempty"`
	EmailQueued       *EmailQueued   `json:"email_queued,omitempty"`
	Attempts          int            `json:"attempts,omitempty"`
}
