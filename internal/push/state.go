package push

import (
	"context"
	"sync"

	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push/engineio"
	"github.com/nhle/petropulse/internal/push/socketio"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Identity selects the channels a connection joins. The zero value means
// nobody is signed in.
type Identity struct {
	UserID string
	Role   model.Role
}

// Empty reports whether no user is set.
func (i Identity) Empty() bool {
	return i.UserID == ""
}

// Channels returns the channels this identity belongs to: its own and,
// for Supervisor and Admin, the role channel.
func (i Identity) Channels() []string {
	if i.Empty() {
		return nil
	}
	channels := []string{i.UserID}
	if i.Role.HasRoleChannel() {
		channels = append(channels, string(i.Role))
	}
	return channels
}

// Conn is one established push connection. Events is closed when the
// connection ends; Err then tells why.
type Conn interface {
	Emit(event string, args ...any) error
	Events() <-chan socketio.Event
	Err() error
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// SocketIODialer dials a Socket.IO server.
type SocketIODialer struct {
	Config engineio.Config
}

func (d SocketIODialer) Dial(ctx context.Context) (Conn, error) {
	c, err := socketio.Dial(ctx, d.Config, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Subscription is a registered callback. Unsubscribe is safe to call more
// than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// NewSubscription wraps cancel in a Subscription. It lets code outside this
// package hand out the same handle type.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}
