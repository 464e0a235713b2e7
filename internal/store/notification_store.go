package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/petropulse/internal/model"
)

const notificationColumns = "id, type, title, message, read, created_at"

// ReplaceNotifications replaces the cached list with ns in one transaction.
func (s *SQLiteStore) ReplaceNotifications(ctx context.Context, ns []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notification cache: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, upsertNotificationSQL)
	if err != nil {
		return fmt.Errorf("preparing notification insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, n := range ns {
		if n.ID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			n.ID, string(n.Type), n.Title, n.Message,
			boolToInt(n.Read), n.CreatedAt.UTC(), now,
		); err != nil {
			return fmt.Errorf("caching notification %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

const upsertNotificationSQL = `
	INSERT OR REPLACE INTO notifications (
		id, type, title, message, read, created_at, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

// UpsertNotification inserts or replaces a single cached notification.
func (s *SQLiteStore) UpsertNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		return errors.New("caching notification: missing id")
	}
	_, err := s.db.ExecContext(ctx, upsertNotificationSQL,
		n.ID, string(n.Type), n.Title, n.Message,
		boolToInt(n.Read), n.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("caching notification %s: %w", n.ID, err)
	}
	return nil
}

// GetNotifications returns cached notifications newest first.
func (s *SQLiteStore) GetNotifications(
	ctx context.Context,
	filter NotificationFilter,
) ([]model.Notification, error) {
	var conditions []string
	var args []interface{}

	if filter.UnreadOnly {
		conditions = append(conditions, "read = 0")
	}
	if filter.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, string(*filter.Type))
	}

	query := "SELECT " + notificationColumns + " FROM notifications"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// GetNotificationByID returns a cached notification, or nil when absent.
func (s *SQLiteStore) GetNotificationByID(ctx context.Context, id string) (*model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting notification %s: %w", id, err)
		}
		return nil, nil
	}
	n, err := scanNotification(rows)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkNotificationRead marks a single cached notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// DeleteNotification drops a cached notification.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// CountUnread returns the number of cached notifications not yet read.
func (s *SQLiteStore) CountUnread(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications WHERE read = 0"); err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		notifType string
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(&n.ID, &notifType, &n.Title, &n.Message, &readInt, &createdAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Type = model.NotificationType(notifType)
	n.Read = readInt != 0
	n.CreatedAt = createdAt

	return n, nil
}
