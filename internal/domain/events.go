package domain

import (
	"encoding/json"
	"time"
)

// PaymentEvent is a processor webhook forwarded onto Kafka by the edge.
type PaymentEvent struct {
	Event     string    `json:"event"`
	Reference string    `json:"reference"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderNotification is published for each enqueued status notification.
type OrderNotification struct {
	NotificationID string          `json:"notification_id"`
	OrderID        string          `json:"order_id"`
	Status         string          `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
