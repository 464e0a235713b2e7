package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nhle/petropulse/internal/model"
)

// Notifications wraps the durable notification endpoints.
type Notifications struct {
	scope *Scope
}

// NewNotifications returns the notification service bound to scope.
func NewNotifications(scope *Scope) *Notifications {
	return &Notifications{scope: scope}
}

type notificationList struct {
	Notifications []model.Notification `json:"notifications"`
}

type notificationOne struct {
	Notification *model.Notification `json:"notification"`
}

// List returns every notification of the signed-in user.
func (n *Notifications) List(ctx context.Context) ([]model.Notification, error) {
	var out notificationList
	if err := n.scope.Do(ctx, Request{Path: "/notifications"}, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// LastFour returns the four most recent notifications.
func (n *Notifications) LastFour(ctx context.Context) ([]model.Notification, error) {
	var out notificationList
	if err := n.scope.Do(ctx, Request{Path: "/notifications/lastfour"}, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// Get fetches one notification.
func (n *Notifications) Get(ctx context.Context, id string) (*model.Notification, error) {
	var out notificationOne
	if err := n.scope.Do(ctx, Request{Path: "/notifications/" + url.PathEscape(id)}, &out); err != nil {
		return nil, err
	}
	if out.Notification == nil {
		return nil, &APIError{Status: http.StatusNotFound, Message: "Notification not found."}
	}
	return out.Notification, nil
}

// MarkRead flags a notification as read.
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	return n.scope.Do(ctx, Request{
		Method: http.MethodPatch,
		Path:   "/notifications/" + url.PathEscape(id) + "/read",
	}, nil)
}

// Delete removes a notification.
func (n *Notifications) Delete(ctx context.Context, id string) error {
	return n.scope.Do(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/notifications/" + url.PathEscape(id),
	}, nil)
}

// Open fetches a notification and marks it read when it was unread. The
// returned value reflects the read flag after the update.
func (n *Notifications) Open(ctx context.Context, id string) (*model.Notification, error) {
	notif, err := n.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if notif.Read {
		return notif, nil
	}
	if err := n.MarkRead(ctx, id); err != nil {
		return notif, err
	}
	notif.Read = true
	return notif, nil
}
