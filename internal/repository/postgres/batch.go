package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// BatchRepository implements domain.BatchRepository using PostgreSQL.
// A batch and its notifications are always written in one transaction.
type BatchRepository struct {
	db *DB
}

var _ domain.BatchRepository = (*BatchRepository)(nil)

// NewBatchRepository creates a new BatchRepository
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Save inserts the batch and all of its notifications
func (r *BatchRepository) Save(ctx context.Context, b *domain.NotificationBatch) error {
	s := b.Snapshot()

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO notification_batches (id, channel, status, error_message, created_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, query, s.ID, s.Channel, s.Status, s.Error, s.CreatedAt, s.CompletedAt); err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}

		for i, ns := range s.Notifications {
			if err := insertNotification(ctx, tx, ns, i); err != nil {
				return fmt.Errorf("failed to create notification in batch: %w", err)
			}
		}
		return nil
	})
}

// Update persists the batch status together with every member's status
func (r *BatchRepository) Update(ctx context.Context, b *domain.NotificationBatch) error {
	s := b.Snapshot()

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE notification_batches SET
				status = $2, error_message = $3, completed_at = $4, updated_at = NOW()
			WHERE id = $1
		`
		result, err := tx.Exec(ctx, query, s.ID, s.Status, s.Error, s.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		for _, ns := range s.Notifications {
			if err := updateNotification(ctx, tx, ns); err != nil {
				return err
			}
		}
		return nil
	})
}

// Claim atomically moves the batch from PENDING to PROCESSING. It returns false
// when another worker or instance already holds it or it has finished.
func (r *BatchRepository) Claim(ctx context.Context, id domain.BatchID) (bool, error) {
	query := `
		UPDATE notification_batches SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.db.Pool.Exec(ctx, query, id.String(), domain.BatchStatusProcessing, domain.BatchStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetByID retrieves a batch with its notifications in delivery order
func (r *BatchRepository) GetByID(ctx context.Context, id domain.BatchID) (*domain.NotificationBatch, error) {
	query := `
		SELECT id::text, channel, status, error_message, created_at, completed_at
		FROM notification_batches
		WHERE id = $1
	`

	var s domain.BatchSnapshot
	err := r.db.Pool.QueryRow(ctx, query, id.String()).Scan(
		&s.ID, &s.Channel, &s.Status, &s.Error, &s.CreatedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	if s.Notifications, err = r.members(ctx, s.ID); err != nil {
		return nil, err
	}
	return domain.RestoreBatch(s)
}

// ListStale returns batches in status created before the cutoff, oldest first
func (r *BatchRepository) ListStale(ctx context.Context, status domain.BatchStatus, createdBefore time.Time, limit int) ([]*domain.NotificationBatch, error) {
	query := `
		SELECT id::text
		FROM notification_batches
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale batches: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale batches: %w", err)
	}

	batches := make([]*domain.NotificationBatch, 0, len(ids))
	for _, id := range ids {
		b, err := r.GetByID(ctx, domain.BatchID(id))
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (r *BatchRepository) members(ctx context.Context, batchID string) ([]domain.NotificationSnapshot, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE batch_id = $1 ORDER BY position ASC`

	rows, err := r.db.Pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.NotificationSnapshot, 0)
	for rows.Next() {
		s, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}
