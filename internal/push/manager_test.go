package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/push/socketio"
	"github.com/nhle/petropulse/tests/testutil"
)

type fakeConn struct {
	mu      sync.Mutex
	emitted []string
	events  chan socketio.Event
	err     error
	once    sync.Once
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan socketio.Event, 16)}
}

func (c *fakeConn) Emit(event string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, fmt.Sprint(append([]any{event}, args...)...))
	return nil
}

func (c *fakeConn) Events() <-chan socketio.Event { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
}

func (c *fakeConn) Emitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emitted...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	results chan dialResult
	mu      sync.Mutex
	dials   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (push.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) succeed() *fakeConn {
	c := newFakeConn()
	d.results <- dialResult{conn: c}
	return c
}

func (d *fakeDialer) fail() {
	d.results <- dialResult{err: errors.New("connection refused")}
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type harness struct {
	m      *push.Manager
	dialer *fakeDialer
	clock  *clock.FakeClock
	states chan push.State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clock:  testutil.NewFakeClock(),
		states: make(chan push.State, 64),
	}
	cfg := push.DefaultConfig("http://push.invalid")
	h.m = push.NewManager(cfg, push.WithDialer(h.dialer), push.WithClock(h.clock))
	h.m.SubscribeState(func(s push.State) { h.states <- s })
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

func (h *harness) expectStates(t *testing.T, want ...push.State) {
	t.Helper()
	got := make([]push.State, 0, len(want))
	for range want {
		select {
		case s := <-h.states:
			got = append(got, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("states: got %v, want %v", got, want)
		}
	}
	assert.Equal(t, want, got)
}

func (h *harness) expectNoStates(t *testing.T) {
	t.Helper()
	select {
	case s := <-h.states:
		t.Fatalf("unexpected state %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

// tick waits for the retry timer and lets it fire.
func (h *harness) tick() {
	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
}

func TestTechnicianJoinsOnlyOwnChannel(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()

	h.m.SetIdentity(push.Identity{UserID: "u1", Role: model.RoleTechnician})

	h.expectStates(t, push.Connecting, push.Connected)
	assert.True(t, h.m.Connected())
	assert.Equal(t, []string{"join u1"}, conn.Emitted())
	assert.Equal(t, []string{"u1"}, h.m.Channels())
}

func TestAdminJoinsRoleChannel(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()

	h.m.SetIdentity(push.Identity{UserID: "u2", Role: model.RoleAdmin})

	h.expectStates(t, push.Connecting, push.Connected)
	assert.Equal(t, []string{"join u2", "join_role Admin"}, conn.Emitted())
	assert.Equal(t, []string{"u2", "Admin"}, h.m.Channels())
}

func TestReconnectAfterDropRejoinsOnce(t *testing.T) {
	h := newHarness(t)
	first := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u1", Role: model.RoleSupervisor})
	h.expectStates(t, push.Connecting, push.Connected)

	for range 3 {
		h.dialer.fail()
	}
	second := h.dialer.succeed()

	first.drop(errors.New("transport close"))
	h.expectStates(t, push.Reconnecting)
	assert.Empty(t, h.m.Channels(), "channels are cleared on drop")

	for range 4 {
		h.tick()
	}
	h.expectStates(t, push.Connected)
	h.expectNoStates(t)

	assert.Equal(t, []string{"join u1", "join_role Supervisor"}, first.Emitted())
	assert.Equal(t, []string{"join u1", "join_role Supervisor"}, second.Emitted())
	assert.Equal(t, []string{"u1", "Supervisor"}, h.m.Channels())
	assert.True(t, first.Closed())
	assert.Equal(t, 5, h.dialer.Dials(), "one dial plus four redials")
}

func TestBudgetExhaustionStaysDisconnected(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	id := push.Identity{UserID: "u1", Role: model.RoleViewer}
	h.m.SetIdentity(id)
	h.expectStates(t, push.Connecting, push.Connected)

	for range 5 {
		h.dialer.fail()
	}
	conn.drop(errors.New("gone"))

	h.expectStates(t, push.Reconnecting)
	for range 5 {
		h.tick()
	}
	h.expectStates(t, push.Disconnected)
	assert.Equal(t, 6, h.dialer.Dials(), "five redials after the drop")
	assert.Zero(t, h.clock.PendingCount())

	h.m.SetIdentity(id)
	assert.Equal(t, push.Disconnected, h.m.State())
	assert.Equal(t, 6, h.dialer.Dials(), "same identity does not redial")

	again := h.dialer.succeed()
	h.m.Reconnect()
	h.expectStates(t, push.Connecting, push.Connected)
	assert.Equal(t, []string{"join u1"}, again.Emitted())
}

func TestInitialConnectFailuresRetry(t *testing.T) {
	h := newHarness(t)
	h.dialer.fail()
	conn := h.dialer.succeed()

	h.m.SetIdentity(push.Identity{UserID: "u1"})

	h.expectStates(t, push.Connecting, push.Reconnecting)
	h.tick()
	h.expectStates(t, push.Connected)
	assert.Equal(t, []string{"join u1"}, conn.Emitted())
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u1"})
	h.expectStates(t, push.Connecting, push.Connected)

	conn.drop(errors.New("gone"))
	h.expectStates(t, push.Reconnecting)
	h.clock.WaitForTimers(1)

	require.NoError(t, h.m.Close())
	h.expectStates(t, push.Disconnected)
	assert.Zero(t, h.clock.PendingCount())
	assert.Empty(t, h.m.Channels())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.Dials())

	h.m.SetIdentity(push.Identity{UserID: "u2"})
	assert.Equal(t, 1, h.dialer.Dials(), "closed manager stays closed")
}

func TestCloseDuringStalledDial(t *testing.T) {
	h := newHarness(t)
	h.m.SetIdentity(push.Identity{UserID: "u1"})
	h.expectStates(t, push.Connecting)

	closed := make(chan struct{})
	go func() {
		_ = h.m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a dial that never completes")
	}
	h.expectStates(t, push.Disconnected)
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestCloseReleasesTransport(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u1"})
	h.expectStates(t, push.Connecting, push.Connected)

	require.NoError(t, h.m.Close())
	assert.True(t, conn.Closed())
	assert.False(t, h.m.Connected())
}

func TestIdentityChangeRecreatesConnection(t *testing.T) {
	h := newHarness(t)
	first := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u1", Role: model.RoleTechnician})
	h.expectStates(t, push.Connecting, push.Connected)

	second := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u2", Role: model.RoleSupervisor})
	h.expectStates(t, push.Connecting, push.Connected)

	assert.True(t, first.Closed())
	assert.Equal(t, []string{"join u2", "join_role Supervisor"}, second.Emitted())
	assert.Equal(t, []string{"u2", "Supervisor"}, h.m.Channels())
}

func TestEmptyIdentityDisconnects(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()
	h.m.SetIdentity(push.Identity{UserID: "u1"})
	h.expectStates(t, push.Connecting, push.Connected)

	h.m.SetIdentity(push.Identity{})
	h.expectStates(t, push.Disconnected)
	assert.True(t, conn.Closed())
	assert.Empty(t, h.m.Channels())
}

func TestNotificationsReachSubscribers(t *testing.T) {
	h := newHarness(t)
	conn := h.dialer.succeed()

	got := make(chan model.Event, 4)
	sub := h.m.Subscribe(func(e model.Event) { got <- e })

	h.m.SetIdentity(push.Identity{UserID: "u1"})
	h.expectStates(t, push.Connecting, push.Connected)

	conn.events <- socketio.Event{Name: "other", Args: []json.RawMessage{json.RawMessage(`{}`)}}
	conn.events <- socketio.Event{Name: push.EventNotification, Args: []json.RawMessage{json.RawMessage(`"oops"`)}}
	conn.events <- socketio.Event{Name: push.EventNotification}
	conn.events <- socketio.Event{Name: push.EventNotification, Args: []json.RawMessage{
		json.RawMessage(`{"_id":"n1","type":"overdue","title":"WO-9 overdue","message":"Pump P-3"}`),
	}}

	select {
	case e := <-got:
		assert.Equal(t, "n1", e.ID)
		assert.Equal(t, model.NotificationOverdue, e.Type)
		assert.Equal(t, "WO-9 overdue", e.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
	}
	select {
	case e := <-got:
		t.Fatalf("malformed event delivered: %+v", e)
	default:
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	conn.events <- socketio.Event{Name: push.EventNotification, Args: []json.RawMessage{json.RawMessage(`{"title":"late"}`)}}
	conn.events <- socketio.Event{Name: "flush"}

	h.m.SetIdentity(push.Identity{})
	h.expectStates(t, push.Disconnected)
	assert.Empty(t, got)
}

func TestChannelsForIdentity(t *testing.T) {
	assert.Nil(t, push.Identity{}.Channels())
	assert.Equal(t, []string{"u"}, push.Identity{UserID: "u", Role: model.RoleViewer}.Channels())
	assert.Equal(t, []string{"u", "Supervisor"}, push.Identity{UserID: "u", Role: model.RoleSupervisor}.Channels())
}
