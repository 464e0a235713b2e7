// Package sync forwards the asynchronous parts of the client (session
// changes, push connection state, pushed notifications) into the Bubble
// Tea runtime, and keeps the push connection's identity in step with the
// session.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/petropulse/internal/intake"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
)

// SessionMsg is a tea.Msg sent on every session transition.
type SessionMsg struct {
	Session session.Session
}

// PushStateMsg is a tea.Msg sent on every push state publication.
type PushStateMsg struct {
	State push.State
}

// NotificationsMsg is a tea.Msg carrying events drained from the intake
// queue, ids already assigned.
type NotificationsMsg struct {
	Events []model.Event
}

// Sessions is the part of the session store the bridge observes.
type Sessions interface {
	Current() session.Session
	Subscribe(fn func(session.Session)) (unsubscribe func())
}

// Pusher is the part of the push manager the bridge drives.
type Pusher interface {
	SetIdentity(id push.Identity)
	SubscribeState(fn func(push.State)) *push.Subscription
	Subscribe(fn func(model.Event)) *push.Subscription
}

// resultBuffer bounds the queue of session and state messages.
const resultBuffer = 64

// Bridge wires the session store, the push manager and the intake queue
// together and exposes their output as tea.Cmds.
type Bridge struct {
	sessions Sessions
	pusher   Pusher
	queue    *intake.Queue
	logger   *slog.Logger

	resultCh   chan tea.Msg
	identityCh chan push.Identity
	stopCh     chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         gosync.WaitGroup

	mu      gosync.Mutex
	running bool
	stopped bool
	stops   []func()
}

// New creates a stopped Bridge.
func New(sessions Sessions, pusher Pusher, queue *intake.Queue, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		sessions:   sessions,
		pusher:     pusher,
		queue:      queue,
		logger:     logger,
		resultCh:   make(chan tea.Msg, resultBuffer),
		identityCh: make(chan push.Identity, 1),
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to every source and returns the commands that deliver
// their messages. Each command yields one message; callers re-arm it with
// WaitForResult or WaitForNotifications after handling it.
func (b *Bridge) Start() tea.Cmd {
	b.mu.Lock()
	if b.running || b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.running = true

	stateSub := b.pusher.SubscribeState(func(s push.State) {
		b.sendResult(PushStateMsg{State: s})
	})
	eventSub := b.pusher.Subscribe(func(e model.Event) {
		b.queue.Push(e)
	})
	unsubscribe := b.sessions.Subscribe(func(s session.Session) {
		b.sendResult(SessionMsg{Session: s})
		b.setIdentity(identityOf(s))
	})
	b.stops = []func(){stateSub.Unsubscribe, eventSub.Unsubscribe, unsubscribe}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.identityLoop()

	// Apply the session that was current before we subscribed.
	b.setIdentity(identityOf(b.sessions.Current()))

	return tea.Batch(b.WaitForResult(), b.WaitForNotifications())
}

// Stop removes every subscription, ends the identity worker and wakes
// pending waits. A stopped Bridge cannot be started again. Stop is safe to
// call more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopped = true
	stops := b.stops
	b.stops = nil
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	close(b.stopCh)
	b.cancel()
	b.wg.Wait()
}

// WaitForResult returns a tea.Cmd that waits for the next session or push
// state message.
func (b *Bridge) WaitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.resultCh:
			return msg
		case <-b.stopCh:
			return nil
		}
	}
}

// WaitForNotifications returns a tea.Cmd that waits for the next batch of
// pushed notifications.
func (b *Bridge) WaitForNotifications() tea.Cmd {
	return func() tea.Msg {
		events, err := b.queue.Wait(b.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, intake.ErrClosed) {
				b.logger.Warn("waiting for notifications", "error", err)
			}
			return nil
		}
		return NotificationsMsg{Events: events}
	}
}

// sendResult queues msg without blocking the publisher.
func (b *Bridge) sendResult(msg tea.Msg) {
	select {
	case b.resultCh <- msg:
	default:
		b.logger.Warn("dropping ui message, queue full", "type", fmt.Sprintf("%T", msg))
	}
}

// setIdentity hands id to the worker, replacing one not yet applied.
func (b *Bridge) setIdentity(id push.Identity) {
	for {
		select {
		case b.identityCh <- id:
			return
		default:
		}
		select {
		case <-b.identityCh:
		default:
		}
	}
}

// identityLoop applies identities one at a time, off the publishers'
// goroutines, since SetIdentity waits for the previous connection to stop.
func (b *Bridge) identityLoop() {
	defer b.wg.Done()
	for {
		select {
		case id := <-b.identityCh:
			b.pusher.SetIdentity(id)
		case <-b.stopCh:
			return
		}
	}
}

func identityOf(s session.Session) push.Identity {
	if !s.LoggedIn() {
		return push.Identity{}
	}
	return push.Identity{UserID: s.UserID, Role: s.Role}
}
