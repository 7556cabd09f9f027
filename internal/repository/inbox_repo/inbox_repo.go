package inbox_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reconciler/internal/domain"
)

type inboxRepository struct{}

func NewInboxRepository() *inboxRepository {
	return &inboxRepository{}
}

// CreateMessageTx inserts msg keyed by its event key. When the key was seen
// before, the existing row decides: PROCESSED yields domain.ErrMessageProcessed,
// anything else loads the stored row into msg so the caller can retry it.
func (r *inboxRepository) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) error {
	query := `
		INSERT INTO inbox_messages (id, event_key, reference, kafka_topic, kafka_partition, kafka_offset, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_key) DO NOTHING
		RETURNING id
	`
	var id string
	err := querier.QueryRowContext(ctx, query,
		msg.ID,
		msg.EventKey,
		msg.Reference,
		msg.KafkaTopic,
		msg.KafkaPartition,
		msg.KafkaOffset,
		msg.Payload,
		string(msg.Status),
		msg.ReceivedAt,
	).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to create inbox message %s: %w", msg.EventKey, err)
	}

	existing, err := r.GetByEventKeyTx(ctx, querier, msg.EventKey)
	if err != nil {
		return err
	}
	if existing.Status == domain.InboxStatusProcessed {
		return domain.ErrMessageProcessed
	}
	*msg = *existing
	return nil
}

func (r *inboxRepository) UpdateStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error {
	query := `
		UPDATE inbox_messages
		SET status = $1,
		    processed_at = CASE WHEN $1::TEXT = 'PROCESSED' THEN $2 ELSE processed_at END,
		    attempts = attempts + CASE WHEN $1::TEXT = 'FAILED' THEN 1 ELSE 0 END
		WHERE id = $3
	`
	res, err := querier.ExecContext(ctx, query, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update inbox message status %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for inbox message update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("inbox message with id %s not found for status update", id)
	}
	return nil
}

func (r *inboxRepository) GetByEventKeyTx(ctx context.Context, querier domain.Querier, eventKey string) (*domain.InboxMessage, error) {
	query := `
		SELECT ` + inboxColumns + `
		FROM inbox_messages
		WHERE event_key = $1
		FOR UPDATE
	`
	msg, err := scanMessage(querier.QueryRowContext(ctx, query, eventKey))
	if err != nil {
		return nil, fmt.Errorf("failed to get inbox message by event key %s: %w", eventKey, err)
	}
	return msg, nil
}

// GetFailedMessagesTx returns FAILED rows that have been tried fewer than
// maxAttempts times, oldest first. Rows locked by another sweep are skipped.
func (r *inboxRepository) GetFailedMessagesTx(ctx context.Context, querier domain.Querier, maxAttempts, limit int) ([]domain.InboxMessage, error) {
	query := `
		SELECT ` + inboxColumns + `
		FROM inbox_messages
		WHERE status = $1 AND attempts < $2
		ORDER BY received_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := querier.QueryContext(ctx, query, string(domain.InboxStatusFailed), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed inbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.InboxMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbox message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed inbox messages: %w", err)
	}
	return messages, nil
}

const inboxColumns = `id, event_key, reference, kafka_topic, kafka_partition, kafka_offset, payload, status, attempts, received_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.InboxMessage, error) {
	msg := &domain.InboxMessage{}
	var processedAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.EventKey,
		&msg.Reference,
		&msg.KafkaTopic,
		&msg.KafkaPartition,
		&msg.KafkaOffset,
		&msg.Payload,
		&msg.Status,
		&msg.Attempts,
		&msg.ReceivedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		msg.ProcessedAt = &processedAt.Time
	}
	return msg, nil
}
