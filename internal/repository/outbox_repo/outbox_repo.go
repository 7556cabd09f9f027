package outbox_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"reconciler/internal/domain"
)

type outboxRepository struct{}

func NewOutboxRepository() *outboxRepository {
	return &outboxRepository{}
}

// GetPendingMessagesTx locks up to limit pending notifications. Rows locked by
// another relay are skipped.
func (r *outboxRepository) GetPendingMessagesTx(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, order_id, status, dedupe_key, payload, state, attempts, created_at, sent_at
		FROM notification_outbox
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := querier.QueryContext(ctx, query, string(domain.OutboxStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		msg := domain.OutboxMessage{}
		var sentAt sql.NullTime
		err := rows.Scan(
			&msg.ID,
			&msg.OrderID,
			&msg.Status,
			&msg.DedupeKey,
			&msg.Payload,
			&msg.State,
			&msg.Attempts,
			&msg.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		if sentAt.Valid {
			msg.SentAt = &sentAt.Time
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	return messages, nil
}

func (r *outboxRepository) MarkMessagesAsSentTx(ctx context.Context, querier domain.Querier, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE notification_outbox
		SET state = $1, sent_at = $2, attempts = attempts + 1
		WHERE id = ANY($3)
	`
	if _, err := querier.ExecContext(ctx, query, string(domain.OutboxStatusSent), time.Now(), pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark outbox messages as sent: %w", err)
	}
	return nil
}

// MarkMessagesAsFailedTx counts a failed delivery. Messages stay PENDING until
// they reach maxAttempts, then move to FAILED.
func (r *outboxRepository) MarkMessagesAsFailedTx(ctx context.Context, querier domain.Querier, ids []string, maxAttempts int) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE notification_outbox
		SET attempts = attempts + 1,
		    state = CASE WHEN attempts + 1 >= $1 THEN $2 ELSE state END
		WHERE id = ANY($3)
	`
	if _, err := querier.ExecContext(ctx, query, maxAttempts, string(domain.OutboxStatusFailed), pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark outbox messages as failed: %w", err)
	}
	return nil
}
