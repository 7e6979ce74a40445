package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// HistoryRepository implements domain.HistoryRepository using PostgreSQL
type HistoryRepository struct {
	db *DB
}

var _ domain.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Upsert writes the entry. Events may arrive out of order: recorded timestamps and
// content are kept when the incoming entry lacks them, and a late SENT never
// overwrites a terminal status.
func (r *HistoryRepository) Upsert(ctx context.Context, e domain.HistoryEntry) error {
	query := `
		INSERT INTO notification_history (
			notification_id, recipient_id, batch_id, channel, title, body,
			status, error_message, sent_at, delivered_at, failed_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (notification_id) DO UPDATE SET
			batch_id      = COALESCE(EXCLUDED.batch_id, notification_history.batch_id),
			title         = COALESCE(NULLIF(EXCLUDED.title, ''), notification_history.title),
			body          = COALESCE(NULLIF(EXCLUDED.body, ''), notification_history.body),
			status        = CASE
				WHEN EXCLUDED.status = 'SENT' AND notification_history.status IN ('DELIVERED', 'FAILED')
				THEN notification_history.status
				ELSE EXCLUDED.status
			END,
			error_message = COALESCE(NULLIF(EXCLUDED.error_message, ''), notification_history.error_message),
			sent_at       = COALESCE(EXCLUDED.sent_at, notification_history.sent_at),
			delivered_at  = COALESCE(EXCLUDED.delivered_at, notification_history.delivered_at),
			failed_at     = COALESCE(EXCLUDED.failed_at, notification_history.failed_at),
			updated_at    = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		e.NotificationID.String(), e.RecipientID.String(), e.BatchID.String(), e.Channel,
		e.Title, e.Body, e.Status, e.ErrorMessage, e.SentAt, e.DeliveredAt, e.FailedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert history: %w", err)
	}
	return nil
}

// GetByNotificationID retrieves the history entry of one notification
func (r *HistoryRepository) GetByNotificationID(ctx context.Context, id domain.NotificationID) (*domain.HistoryEntry, error) {
	query := `
		SELECT notification_id::text, recipient_id::text, COALESCE(batch_id::text, ''), channel,
			title, body, status, error_message, sent_at, delivered_at, failed_at, updated_at
		FROM notification_history
		WHERE notification_id = $1
	`

	var (
		e                         domain.HistoryEntry
		nid, recipient, batch, ch string
	)
	err := r.db.Pool.QueryRow(ctx, query, id.String()).Scan(
		&nid, &recipient, &batch, &ch,
		&e.Title, &e.Body, &e.Status, &e.ErrorMessage, &e.SentAt, &e.DeliveredAt, &e.FailedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}

	e.NotificationID = domain.NotificationID(nid)
	e.RecipientID = domain.UserID(recipient)
	e.BatchID = domain.BatchID(batch)
	e.Channel = domain.Channel(ch)
	return &e, nil
}
