// Package session owns the signed-in identity: who the user is, the bearer
// credential the backend issued, the account role and when the credential
// expires.
//
// The store persists only the role. Identity and credential live in memory,
// so a restart always requires a fresh login.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/store"
)

// StorageKey is the local-storage key holding the persisted projection.
const StorageKey = "userData"

// DefaultLifetime applies when Login is given no expiry.
const DefaultLifetime = time.Hour

// storageTimeout bounds each local-storage operation.
const storageTimeout = 5 * time.Second

// Session is a snapshot of the current session state.
type Session struct {
	UserID string
	Token  string
	Role   model.Role
	Expiry time.Time
}

// LoggedIn reports whether the snapshot carries a credential.
func (s Session) LoggedIn() bool {
	return s.Token != ""
}

// Projection is the persisted shape. Only Role is ever written; the other
// fields are read so a well-formed full entry can still restore a session.
type Projection struct {
	UserID     string     `json:"userId,omitempty"`
	Token      string     `json:"token,omitempty"`
	Role       model.Role `json:"role"`
	Expiration string     `json:"expiration,omitempty"`
}

// Store is the process-wide session container. It is safe for concurrent
// use; all mutation goes through Login, Logout, Restore and the expiry
// timer.
type Store struct {
	storage store.LocalStorage
	clock   clock.Clock
	logger  *slog.Logger

	// opMu serializes state changes together with their storage writes,
	// so a pending expiry cannot interleave with a newer Login.
	opMu sync.Mutex

	mu         sync.Mutex
	current    Session
	timer      *clock.Timer
	generation uint64
	listeners  map[uint64]func(Session)
	nextID     uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used for storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an unauthenticated Store persisting to storage.
func New(storage store.LocalStorage, opts ...Option) *Store {
	s := &Store{
		storage:   storage,
		clock:     clock.Real(),
		logger:    slog.Default(),
		listeners: make(map[uint64]func(Session)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login replaces the session. A zero expiry defaults to now plus
// DefaultLifetime. Any pending expiry from a previous session is cancelled
// before the new one is scheduled. An expiry that is not in the future
// leaves the store unauthenticated.
func (s *Store) Login(userID, token string, role model.Role, expiry time.Time) {
	now := s.clock.Now()
	if expiry.IsZero() {
		expiry = now.Add(DefaultLifetime)
	}

	s.opMu.Lock()
	s.persist(Projection{Role: role})

	remaining := expiry.Sub(now)
	if remaining <= 0 {
		s.logger.Warn("session expired on arrival", "user", userID, "expiry", expiry)
		wasSet := s.resetLocked()
		s.opMu.Unlock()
		if wasSet {
			s.notify(Session{})
		}
		return
	}

	s.mu.Lock()
	s.stopTimerLocked()
	s.generation++
	gen := s.generation
	s.current = Session{UserID: userID, Token: token, Role: role, Expiry: expiry}
	s.timer = s.clock.AfterFunc(remaining, func() { s.expire(gen) })
	snapshot := s.current
	s.mu.Unlock()
	s.opMu.Unlock()

	s.notify(snapshot)
}

// Logout clears the session, drops the persisted projection and cancels
// the expiry timer. Calling it when already logged out is harmless.
func (s *Store) Logout() {
	s.clear()
}

// Restore reads the persisted projection and logs in when it holds a
// credential whose expiration has not passed. Missing or malformed data is
// treated as no session. The decoded projection is returned either way so
// callers can read the remembered role.
func (s *Store) Restore() (Projection, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	raw, ok, err := s.storage.GetItem(ctx, StorageKey)
	if err != nil {
		s.logger.Warn("reading persisted session", "error", err)
		return Projection{}, false
	}
	if !ok {
		return Projection{}, false
	}

	var p Projection
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Debug("discarding malformed persisted session", "error", err)
		return Projection{}, false
	}

	if p.Token == "" || p.Expiration == "" {
		return p, false
	}
	expiry, err := time.Parse(time.RFC3339Nano, p.Expiration)
	if err != nil || !expiry.After(s.clock.Now()) {
		return p, false
	}

	s.Login(p.UserID, p.Token, p.Role, expiry)
	return p, s.IsLoggedIn()
}

// IsLoggedIn reports whether a credential is present.
func (s *Store) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Token != ""
}

// Current returns a snapshot of the session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Token returns the bearer credential, or "" when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Token
}

// UserID returns the identity, or "" when logged out.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.UserID
}

// Role returns the account role, or "" when logged out.
func (s *Store) Role() model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Role
}

// Subscribe registers fn to receive every session change. The returned
// function removes the listener.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// expire runs from the timer. A stale generation means the session it was
// scheduled for has already been replaced or cleared.
func (s *Store) expire(gen uint64) {
	s.opMu.Lock()
	s.mu.Lock()
	live := gen == s.generation && s.current.Token != ""
	s.mu.Unlock()
	if !live {
		s.opMu.Unlock()
		return
	}

	s.logger.Info("session expired")
	wasSet := s.resetLocked()
	s.opMu.Unlock()
	if wasSet {
		s.notify(Session{})
	}
}

func (s *Store) clear() {
	s.opMu.Lock()
	wasSet := s.resetLocked()
	s.opMu.Unlock()
	if wasSet {
		s.notify(Session{})
	}
}

// resetLocked empties the session and its persisted projection. The caller
// holds opMu. It reports whether there was anything to clear.
func (s *Store) resetLocked() bool {
	s.mu.Lock()
	s.stopTimerLocked()
	s.generation++
	wasSet := s.current != (Session{})
	s.current = Session{}
	s.mu.Unlock()

	s.removePersisted()
	return wasSet
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) persist(p Projection) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("encoding session projection", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := s.storage.SetItem(ctx, StorageKey, string(data)); err != nil {
		s.logger.Warn("persisting session", "error", err)
	}
}

func (s *Store) removePersisted() {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := s.storage.RemoveItem(ctx, StorageKey); err != nil {
		s.logger.Warn("removing persisted session", "error", err)
	}
}

func (s *Store) notify(snapshot Session) {
	s.mu.Lock()
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
