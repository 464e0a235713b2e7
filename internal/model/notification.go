package model

import (
	"encoding/json"
	"time"
)

// NotificationType classifies a notification for presentation.
type NotificationType string

const (
	NotificationOverdue  NotificationType = "overdue"
	NotificationDowntime NotificationType = "downtime"
	NotificationAssigned NotificationType = "assigned"
	NotificationPMDue    NotificationType = "pm_due"
	NotificationDone     NotificationType = "done"
)

// Notification is a row of the backend's durable notification store.
type Notification struct {
	// ID is the server-assigned identifier.
	ID string `json:"id" db:"id"`

	// Type drives the icon and colour used to render the notification.
	Type NotificationType `json:"type" db:"type"`

	Title   string `json:"title" db:"title"`
	Message string `json:"message" db:"message"`

	// Read is the durable read flag; the backend is the source of truth.
	Read bool `json:"read" db:"read"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// UnmarshalJSON accepts both "id" and the document-store "_id" key.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = Notification(aux.plain)
	if n.ID == "" {
		n.ID = aux.MongoID
	}
	return nil
}

// Event is a notification delivered over the push connection. It may or
// may not correspond to a durable Notification row.
type Event struct {
	// ID is empty when the server did not assign one; intake fills it in.
	ID        string           `json:"id,omitempty"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

// UnmarshalJSON accepts both "id" and "_id", and tolerates a missing or
// unparseable createdAt.
func (e *Event) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        string           `json:"id"`
		MongoID   string           `json:"_id"`
		Type      NotificationType `json:"type"`
		Title     string           `json:"title"`
		Message   string           `json:"message"`
		CreatedAt string           `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.ID = aux.ID
	if e.ID == "" {
		e.ID = aux.MongoID
	}
	e.Type = aux.Type
	e.Title = aux.Title
	e.Message = aux.Message
	e.CreatedAt = time.Time{}
	if aux.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, aux.CreatedAt); err == nil {
			e.CreatedAt = ts
		}
	}
	return nil
}
