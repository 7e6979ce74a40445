package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

const notificationColumns = `
	id::text, recipient_id::text, COALESCE(batch_id::text, ''), channel, contact_info,
	title, body, metadata, status, error_message, created_at, sent_at`

// NotificationRepository implements domain.NotificationRepository using PostgreSQL
type NotificationRepository struct {
	db *DB
}

var _ domain.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save inserts a standalone notification
func (r *NotificationRepository) Save(ctx context.Context, n *domain.Notification) error {
	if err := insertNotification(ctx, r.db.Pool, n.Snapshot(), 0); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// Update persists the mutable state of a notification
func (r *NotificationRepository) Update(ctx context.Context, n *domain.Notification) error {
	return updateNotification(ctx, r.db.Pool, n.Snapshot())
}

// GetByID retrieves a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	s, err := scanNotification(r.db.Pool.QueryRow(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	return domain.RestoreNotification(s)
}

func insertNotification(ctx context.Context, q querier, s domain.NotificationSnapshot, position int) error {
	metadata, err := marshalMetadata(s.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, batch_id, position, channel, contact_info,
			title, body, metadata, status, error_message, created_at, sent_at
		) VALUES (
			$1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err = q.Exec(ctx, query,
		s.ID, s.RecipientID, s.BatchID, position, s.Channel, s.ContactInfo,
		s.Title, s.Body, metadata, s.Status, s.Error, s.CreatedAt, s.SentAt,
	)
	return err
}

func updateNotification(ctx context.Context, q querier, s domain.NotificationSnapshot) error {
	query := `
		UPDATE notifications SET
			status = $2, error_message = $3, sent_at = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, s.ID, s.Status, s.Error, s.SentAt)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (domain.NotificationSnapshot, error) {
	var (
		s        domain.NotificationSnapshot
		metadata []byte
	)
	err := row.Scan(
		&s.ID, &s.RecipientID, &s.BatchID, &s.Channel, &s.ContactInfo,
		&s.Title, &s.Body, &metadata, &s.Status, &s.Error, &s.CreatedAt, &s.SentAt,
	)
	if err != nil {
		return s, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return s, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return s, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}
