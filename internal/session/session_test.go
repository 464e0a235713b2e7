package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/session"
	"github.com/nhle/petropulse/tests/testutil"
)

func newStore(t *testing.T) (*session.Store, *testutil.MemoryStorage, func(time.Duration)) {
	t.Helper()
	storage := testutil.NewMemoryStorage()
	c := testutil.NewFakeClock()
	return session.New(storage, session.WithClock(c)), storage, c.Advance
}

func TestLoginSetsSessionAndPersistsRoleOnly(t *testing.T) {
	s, storage, _ := newStore(t)

	s.Login("u1", "tok", model.RoleSupervisor, time.Time{})

	assert.True(t, s.IsLoggedIn())
	cur := s.Current()
	assert.Equal(t, "u1", cur.UserID)
	assert.Equal(t, "tok", cur.Token)
	assert.Equal(t, model.RoleSupervisor, cur.Role)
	assert.Equal(t, testutil.Epoch.Add(session.DefaultLifetime), cur.Expiry)

	raw, ok := storage.Value(session.StorageKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"Supervisor"}`, raw)
}

func TestExpiryLogsOutExactlyOnce(t *testing.T) {
	s, storage, advance := newStore(t)

	changes := 0
	s.Subscribe(func(session.Session) { changes++ })

	s.Login("u1", "tok", model.RoleViewer, testutil.Epoch.Add(time.Minute))
	assert.Equal(t, 1, changes)

	advance(59 * time.Second)
	assert.True(t, s.IsLoggedIn())

	advance(time.Second)
	assert.False(t, s.IsLoggedIn())
	assert.Equal(t, 2, changes)
	_, ok := storage.Value(session.StorageKey)
	assert.False(t, ok)

	advance(time.Hour)
	assert.Equal(t, 2, changes, "expiry fires at most once")
}

func TestLogoutCancelsExpiry(t *testing.T) {
	s, _, advance := newStore(t)
	changes := 0

	s.Login("u1", "tok", model.RoleViewer, testutil.Epoch.Add(time.Minute))
	s.Logout()
	s.Subscribe(func(session.Session) { changes++ })

	advance(2 * time.Minute)
	assert.False(t, s.IsLoggedIn())
	assert.Equal(t, 0, changes, "no late logout after explicit logout")
}

func TestLogoutIsIdempotent(t *testing.T) {
	s, storage, _ := newStore(t)
	s.Login("u1", "tok", model.RoleAdmin, time.Time{})

	s.Logout()
	first := s.Current()
	s.Logout()

	assert.Equal(t, first, s.Current())
	assert.Equal(t, session.Session{}, s.Current())
	_, ok := storage.Value(session.StorageKey)
	assert.False(t, ok)
}

func TestNewLoginSupersedesPendingExpiry(t *testing.T) {
	s, _, advance := newStore(t)

	s.Login("u1", "tok1", model.RoleViewer, testutil.Epoch.Add(time.Minute))
	s.Login("u2", "tok2", model.RoleAdmin, testutil.Epoch.Add(time.Hour))

	advance(2 * time.Minute)
	require.True(t, s.IsLoggedIn(), "first session's timer must not log out the second")
	assert.Equal(t, "u2", s.UserID())

	advance(time.Hour)
	assert.False(t, s.IsLoggedIn())
}

func TestLoginWithPastExpiryStaysLoggedOut(t *testing.T) {
	s, _, _ := newStore(t)
	s.Login("u1", "tok", model.RoleViewer, testutil.Epoch.Add(-time.Second))
	assert.False(t, s.IsLoggedIn())
}

func TestRestoreRoundTripKeepsRoleOnly(t *testing.T) {
	storage := testutil.NewMemoryStorage()
	c := testutil.NewFakeClock()

	first := session.New(storage, session.WithClock(c))
	first.Login("u1", "tok", model.RoleTechnician, testutil.Epoch.Add(time.Hour))

	second := session.New(storage, session.WithClock(c))
	p, restored := second.Restore()

	assert.Equal(t, model.RoleTechnician, p.Role)
	assert.Empty(t, p.UserID)
	assert.Empty(t, p.Token)
	assert.False(t, restored)
	assert.False(t, second.IsLoggedIn())
}

func TestRestoreFromFullEntry(t *testing.T) {
	storage := testutil.NewMemoryStorage()
	c := testutil.NewFakeClock()
	exp := testutil.Epoch.Add(10 * time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, storage.SetItem(context.Background(), session.StorageKey,
		`{"userId":"u9","token":"t9","role":"Admin","expiration":"`+exp+`"}`))

	s := session.New(storage, session.WithClock(c))
	_, restored := s.Restore()

	require.True(t, restored)
	assert.Equal(t, "u9", s.UserID())
	assert.Equal(t, model.RoleAdmin, s.Role())

	c.Advance(10 * time.Minute)
	assert.False(t, s.IsLoggedIn(), "restored session still expires")
}

func TestRestoreDiscardsBadEntries(t *testing.T) {
	cases := map[string]string{
		"malformed": `{not json`,
		"expired":   `{"userId":"u","token":"t","role":"Admin","expiration":"2000-01-01T00:00:00Z"}`,
		"bad date":  `{"userId":"u","token":"t","role":"Admin","expiration":"tomorrow"}`,
		"no token":  `{"role":"Admin","expiration":"2999-01-01T00:00:00Z"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			storage := testutil.NewMemoryStorage()
			require.NoError(t, storage.SetItem(context.Background(), session.StorageKey, raw))

			s := session.New(storage, session.WithClock(testutil.NewFakeClock()))
			_, restored := s.Restore()
			assert.False(t, restored)
			assert.False(t, s.IsLoggedIn())
		})
	}
}

func TestRestoreWithNothingStored(t *testing.T) {
	s, _, _ := newStore(t)
	p, restored := s.Restore()
	assert.False(t, restored)
	assert.Equal(t, session.Projection{}, p)
}

func TestUnsubscribe(t *testing.T) {
	s, _, _ := newStore(t)
	calls := 0
	unsubscribe := s.Subscribe(func(session.Session) { calls++ })

	s.Login("u1", "tok", model.RoleViewer, time.Time{})
	unsubscribe()
	unsubscribe()
	s.Logout()

	assert.Equal(t, 1, calls)
}

func TestExpiryFromToken(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, ok := session.ExpiryFromToken(signed)
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = session.ExpiryFromToken("opaque-token")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)
	_, ok = session.ExpiryFromToken(noExp)
	assert.False(t, ok)
}

// gatedStorage blocks RemoveItem until release is closed.
type gatedStorage struct {
	*testutil.MemoryStorage
	removing chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gatedStorage) RemoveItem(ctx context.Context, key string) error {
	g.once.Do(func() {
		close(g.removing)
		<-g.release
	})
	return g.MemoryStorage.RemoveItem(ctx, key)
}

func TestLoginDuringExpirySurvives(t *testing.T) {
	storage := &gatedStorage{
		MemoryStorage: testutil.NewMemoryStorage(),
		removing:      make(chan struct{}),
		release:       make(chan struct{}),
	}
	c := testutil.NewFakeClock()
	s := session.New(storage, session.WithClock(c))
	s.Login("u1", "old", model.RoleViewer, testutil.Epoch.Add(time.Minute))

	done := make(chan struct{})
	go func() {
		<-storage.removing
		go func() {
			s.Login("u2", "new", model.RoleAdmin, time.Time{})
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		close(storage.release)
	}()

	c.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("login did not finish")
	}

	require.True(t, s.IsLoggedIn())
	assert.Equal(t, "u2", s.UserID())
	raw, ok := storage.Value(session.StorageKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"Admin"}`, raw)

	c.Advance(30 * time.Minute)
	assert.True(t, s.IsLoggedIn(), "old timer does not clear the new session")
}
