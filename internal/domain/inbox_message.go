package domain

import "time"

type InboxMessageStatus string

const (
	InboxStatusNew       InboxMessageStatus = "NEW"
	InboxStatusProcessed InboxMessageStatus = "PROCESSED"
	InboxStatusFailed    InboxMessageStatus = "FAILED"
)

// InboxMessage records a consumed payment event so redelivered or duplicated
// webhooks reconcile a reference only once. Attempts counts deliveries that
// ended FAILED.
type InboxMessage struct {
	ID             string
	EventKey       string
	Reference      string
	KafkaTopic     string
	KafkaPartition int
	KafkaOffset    int64
	Payload        []byte
	Status         InboxMessageStatus
	Attempts       int
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}
