package sync_test

import (
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/intake"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
	appsync "github.com/nhle/petropulse/internal/sync"
	"github.com/nhle/petropulse/tests/testutil"
)

type fakePusher struct {
	mu         gosync.Mutex
	identities []push.Identity
	stateFns   map[int]func(push.State)
	eventFns   map[int]func(model.Event)
	next       int
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		stateFns: map[int]func(push.State){},
		eventFns: map[int]func(model.Event){},
	}
}

func (p *fakePusher) SetIdentity(id push.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities = append(p.identities, id)
}

func (p *fakePusher) lastIdentity() (push.Identity, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.identities) == 0 {
		return push.Identity{}, 0
	}
	return p.identities[len(p.identities)-1], len(p.identities)
}

func (p *fakePusher) SubscribeState(fn func(push.State)) *push.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.stateFns[id] = fn
	return push.NewSubscription(func() {
		p.mu.Lock()
		delete(p.stateFns, id)
		p.mu.Unlock()
	})
}

func (p *fakePusher) Subscribe(fn func(model.Event)) *push.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.eventFns[id] = fn
	return push.NewSubscription(func() {
		p.mu.Lock()
		delete(p.eventFns, id)
		p.mu.Unlock()
	})
}

func (p *fakePusher) publish(s push.State) {
	p.mu.Lock()
	fns := make([]func(push.State), 0, len(p.stateFns))
	for _, fn := range p.stateFns {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *fakePusher) emit(e model.Event) {
	p.mu.Lock()
	fns := make([]func(model.Event), 0, len(p.eventFns))
	for _, fn := range p.eventFns {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (p *fakePusher) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stateFns) + len(p.eventFns)
}

func newBridge(t *testing.T) (*appsync.Bridge, *session.Store, *fakePusher, *intake.Queue) {
	t.Helper()
	fc := testutil.NewFakeClock()
	sessions := session.New(testutil.NewMemoryStorage(), session.WithClock(fc))
	pusher := newFakePusher()
	queue := intake.New(intake.WithClock(fc))
	t.Cleanup(queue.Close)
	b := appsync.New(sessions, pusher, queue, nil)
	t.Cleanup(b.Stop)
	return b, sessions, pusher, queue
}

func TestBridgeFollowsSession(t *testing.T) {
	b, sessions, pusher, _ := newBridge(t)
	require.NotNil(t, b.Start())

	assert.Eventually(t, func() bool {
		_, n := pusher.lastIdentity()
		return n == 1
	}, time.Second, 5*time.Millisecond, "initial identity applied")

	sessions.Login("u1", "tok", model.RoleSupervisor, time.Time{})
	msg := b.WaitForResult()()
	sm, ok := msg.(appsync.SessionMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "u1", sm.Session.UserID)

	assert.Eventually(t, func() bool {
		id, _ := pusher.lastIdentity()
		return id == push.Identity{UserID: "u1", Role: model.RoleSupervisor}
	}, time.Second, 5*time.Millisecond)

	sessions.Logout()
	_ = b.WaitForResult()()
	assert.Eventually(t, func() bool {
		id, _ := pusher.lastIdentity()
		return id.Empty()
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeForwardsPushState(t *testing.T) {
	b, _, pusher, _ := newBridge(t)
	b.Start()

	pusher.publish(push.Reconnecting)
	msg := b.WaitForResult()()
	assert.Equal(t, appsync.PushStateMsg{State: push.Reconnecting}, msg)
}

func TestBridgeQueuesNotificationsWithIDs(t *testing.T) {
	b, _, pusher, _ := newBridge(t)
	b.Start()

	pusher.emit(model.Event{Type: model.NotificationPMDue, Title: "PM Due"})
	pusher.emit(model.Event{ID: "srv-1", Type: model.NotificationDone, Title: "Done"})

	var got []model.Event
	for len(got) < 2 {
		msg := b.WaitForNotifications()()
		nm, ok := msg.(appsync.NotificationsMsg)
		require.True(t, ok, "got %T", msg)
		got = append(got, nm.Events...)
	}
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "srv-1", got[1].ID)
}

func TestBridgeStopReleasesEverything(t *testing.T) {
	b, _, pusher, _ := newBridge(t)
	b.Start()
	assert.Equal(t, 2, pusher.subscribers())

	b.Stop()
	b.Stop()
	assert.Equal(t, 0, pusher.subscribers())
	assert.Nil(t, b.WaitForResult()())
	assert.Nil(t, b.WaitForNotifications()())
	assert.Nil(t, b.Start())
}
