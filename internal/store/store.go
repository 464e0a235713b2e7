package store

import (
	"context"

	"github.com/nhle/petropulse/internal/model"
)

// NotificationFilter controls filtering and pagination for cached
// notification queries.
type NotificationFilter struct {
	UnreadOnly bool
	Type       *model.NotificationType
	Limit      int
	Offset     int
}

// LocalStorage is a string key-value store that survives restarts. It plays
// the part browser local storage plays for a web client.
type LocalStorage interface {
	// GetItem returns the value for key and whether it was present.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// NotificationCache keeps the last fetched copy of the durable notification
// list so the inbox can render before the backend answers.
type NotificationCache interface {
	// ReplaceNotifications swaps the cached list for the given one.
	ReplaceNotifications(ctx context.Context, ns []model.Notification) error
	UpsertNotification(ctx context.Context, n model.Notification) error
	GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	GetNotificationByID(ctx context.Context, id string) (*model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
	CountUnread(ctx context.Context) (int, error)
}

// Store is the full local persistence interface.
type Store interface {
	LocalStorage
	NotificationCache
	Close() error
}
