package domain

import "time"

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

// OutboxMessage is a notification the status procedure enqueued. DedupeKey is
// unique per (order, status) so a transition is enqueued at most once.
type OutboxMessage struct {
	ID        string
	OrderID   string
	Status    OrderStatus
	DedupeKey string
	Payload   []byte
	State     OutboxMessageStatus
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}
