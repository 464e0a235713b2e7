// Package push keeps the real-time notification connection for the
// signed-in user.
//
// A Manager owns at most one connection lifecycle at a time. Each lifecycle
// runs in its own goroutine: it dials, joins the identity's channels, pumps
// events to subscribers and, when the transport drops, retries with a fixed
// delay until the attempt budget runs out.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push/engineio"
	"github.com/nhle/petropulse/internal/push/socketio"
)

// Event names used on the wire.
const (
	EventJoin         = "join"
	EventJoinRole     = "join_role"
	EventNotification = "notification"
)

// Config is the connection and retry policy.
type Config struct {
	// URL is the push server origin.
	URL  string
	Path string

	// Transports are tried in order.
	Transports []string

	// ReconnectAttempts bounds the redials made after a drop or a failed
	// first dial. ReconnectDelay precedes each redial.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// DefaultConfig returns the stock policy for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Path:              "/socket.io/",
		Transports:        []string{engineio.TransportPolling, engineio.TransportWebsocket},
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
	}
}

// Observer receives connection telemetry.
type Observer interface {
	StateChanged(State)
	TransportError()
	EventReceived()
	EventDropped()
}

type nopObserver struct{}

func (nopObserver) StateChanged(State) {}
func (nopObserver) TransportError()    {}
func (nopObserver) EventReceived()     {}
func (nopObserver) EventDropped()      {}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the Socket.IO dialer derived from Config.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the real clock used for retry delays.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger for transport errors.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

type lifecycle struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the push connection manager. Its methods must not be called
// from inside a subscription callback.
type Manager struct {
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	identity  Identity
	state     State
	channels  []string
	current   *lifecycle
	gen       uint64
	exhausted bool
	closed    bool

	subMu      sync.Mutex
	nextSub    uint64
	stateSubs  map[uint64]func(State)
	notifySubs map[uint64]func(model.Event)
}

// NewManager creates a disconnected manager. Nothing is dialed until
// SetIdentity is given a user.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		clock:      clock.Real(),
		logger:     slog.Default(),
		observer:   nopObserver{},
		stateSubs:  make(map[uint64]func(State)),
		notifySubs: make(map[uint64]func(model.Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = SocketIODialer{Config: engineio.Config{
			URL:        cfg.URL,
			Path:       cfg.Path,
			Transports: cfg.Transports,
			Logger:     m.logger,
		}}
	}
	return m
}

// SetIdentity connects for id, replacing any connection held for another
// identity. An empty identity closes the connection. Setting the current
// identity again is a no-op, including after the retry budget ran out.
func (m *Manager) SetIdentity(id Identity) {
	m.mu.Lock()
	if m.closed || (id == m.identity && (id.Empty() || m.current != nil || m.exhausted)) {
		m.mu.Unlock()
		return
	}
	m.identity = id
	m.exhausted = false
	old := m.stopLocked()
	m.mu.Unlock()

	wait(old)
	if id.Empty() {
		m.transition(m.generation(), Disconnected)
		return
	}
	m.start(id)
}

// Reconnect starts a fresh lifecycle for the current identity, resetting
// the retry budget.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed || m.identity.Empty() {
		m.mu.Unlock()
		return
	}
	id := m.identity
	m.exhausted = false
	old := m.stopLocked()
	m.mu.Unlock()

	wait(old)
	m.start(id)
}

// Close releases the connection and cancels pending retries. The manager
// cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old := m.stopLocked()
	wasDisconnected := m.state == Disconnected
	m.state = Disconnected
	m.mu.Unlock()

	wait(old)
	if !wasDisconnected {
		m.publishState(Disconnected)
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the connection is up and channels are joined.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// Identity returns the identity the manager is connecting for.
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Channels returns the channels joined on the current connection. It is
// empty whenever the manager is not Connected.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.channels)
}

// SubscribeState registers fn for every state publication.
func (m *Manager) SubscribeState(fn func(State)) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.stateSubs[id] = fn
	return &Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.stateSubs, id)
		m.subMu.Unlock()
	}}
}

// Subscribe registers fn for every well-formed notification event.
func (m *Manager) Subscribe(fn func(model.Event)) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.notifySubs[id] = fn
	return &Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.notifySubs, id)
		m.subMu.Unlock()
	}}
}

// stopLocked detaches the running lifecycle and invalidates everything it
// might still publish.
func (m *Manager) stopLocked() *lifecycle {
	old := m.current
	m.current = nil
	m.gen++
	m.channels = nil
	if old != nil {
		old.cancel()
	}
	return old
}

func wait(lc *lifecycle) {
	if lc != nil {
		<-lc.done
	}
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) start(id Identity) {
	m.mu.Lock()
	if m.closed || m.identity != id || m.current != nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	lc := &lifecycle{gen: m.gen, cancel: cancel, done: make(chan struct{})}
	m.current = lc
	m.state = Connecting
	m.mu.Unlock()

	m.publishState(Connecting)
	go m.run(ctx, lc, id)
}

// transition sets the state if gen is still current and publishes it.
func (m *Manager) transition(gen uint64, s State) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()

	m.publishState(s)
	return true
}

func (m *Manager) publishState(s State) {
	m.observer.StateChanged(s)

	m.subMu.Lock()
	fns := make([]func(State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) run(ctx context.Context, lc *lifecycle, id Identity) {
	defer close(lc.done)

	// redials counts attempts since the last live connection.
	redials := 0
	for {
		conn, err := m.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			m.observer.TransportError()
			m.logger.Warn("push connect failed", "redial", redials, "error", err)
			if !m.retry(ctx, lc, redials) {
				return
			}
			redials++
			continue
		}

		if !m.attach(lc, id, conn) {
			_ = conn.Close()
			return
		}

		err = m.pump(ctx, conn)
		m.detach(lc)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		m.observer.TransportError()
		m.logger.Warn("push connection dropped", "user", id.UserID, "error", err)
		if !m.retry(ctx, lc, 0) {
			return
		}
		redials = 1
	}
}

// retry waits out the delay before the next redial. Reconnecting is
// published once, when the first redial is scheduled; later failures keep
// the state. It returns false when redials already used the budget or ctx
// is cancelled.
func (m *Manager) retry(ctx context.Context, lc *lifecycle, redials int) bool {
	if redials >= m.cfg.ReconnectAttempts {
		m.mu.Lock()
		if lc.gen == m.gen {
			m.exhausted = true
			m.current = nil
		}
		m.mu.Unlock()
		m.logger.Warn("push reconnect budget exhausted", "redials", redials)
		m.transition(lc.gen, Disconnected)
		return false
	}
	if redials == 0 {
		if !m.transition(lc.gen, Reconnecting) {
			return false
		}
	} else if m.generation() != lc.gen {
		return false
	}

	wake := make(chan struct{})
	timer := m.clock.AfterFunc(m.cfg.ReconnectDelay, func() { close(wake) })
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-wake:
		return true
	}
}

// attach joins the identity's channels before anything else goes out on
// conn, then publishes Connected.
func (m *Manager) attach(lc *lifecycle, id Identity, conn Conn) bool {
	m.mu.Lock()
	if lc.gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if err := conn.Emit(EventJoin, id.UserID); err != nil {
		m.logger.Warn("joining user channel", "user", id.UserID, "error", err)
	}
	if id.Role.HasRoleChannel() {
		if err := conn.Emit(EventJoinRole, string(id.Role)); err != nil {
			m.logger.Warn("joining role channel", "role", id.Role, "error", err)
		}
	}

	m.mu.Lock()
	if lc.gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.channels = id.Channels()
	m.state = Connected
	m.mu.Unlock()

	m.logger.Info("push connected", "user", id.UserID, "role", id.Role)
	m.publishState(Connected)
	return true
}

func (m *Manager) detach(lc *lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lc.gen == m.gen {
		m.channels = nil
	}
}

func (m *Manager) pump(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-conn.Events():
			if !ok {
				return conn.Err()
			}
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev socketio.Event) {
	if ev.Name != EventNotification {
		m.logger.Debug("ignoring push event", "event", ev.Name)
		return
	}

	event, err := decodeNotification(ev.Args)
	if err != nil {
		m.observer.EventDropped()
		m.logger.Warn("dropping malformed notification", "error", err)
		return
	}
	m.observer.EventReceived()

	m.subMu.Lock()
	fns := make([]func(model.Event), 0, len(m.notifySubs))
	for _, fn := range m.notifySubs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

func decodeNotification(args []json.RawMessage) (model.Event, error) {
	if len(args) == 0 {
		return model.Event{}, malformedError("notification without payload")
	}
	raw := bytes.TrimSpace(args[0])
	if len(raw) == 0 || raw[0] != '{' {
		return model.Event{}, malformedError("notification payload is not an object")
	}
	var event model.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return model.Event{}, err
	}
	return event, nil
}
