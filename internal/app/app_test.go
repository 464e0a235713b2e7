package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/intake"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
	appsync "github.com/nhle/petropulse/internal/sync"
	"github.com/nhle/petropulse/internal/ui"
	"github.com/nhle/petropulse/internal/ui/detail"
	"github.com/nhle/petropulse/tests/testutil"
)

type nopPusher struct{}

func (nopPusher) SetIdentity(push.Identity) {}

func (nopPusher) SubscribeState(func(push.State)) *push.Subscription {
	return push.NewSubscription(func() {})
}

func (nopPusher) Subscribe(func(model.Event)) *push.Subscription {
	return push.NewSubscription(func() {})
}

func newTestModel(t *testing.T) (Model, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"notifications":[]}`))
	}))
	t.Cleanup(srv.Close)

	sessions := session.New(testutil.NewMemoryStorage(), session.WithClock(testutil.NewFakeClock()))
	queue := intake.New()
	t.Cleanup(queue.Close)
	bridge := appsync.New(sessions, nopPusher{}, queue, nil)
	t.Cleanup(bridge.Stop)

	m := New(context.Background(), Deps{
		Sessions: sessions,
		Client:   api.NewClient(srv.URL, sessions),
		Bridge:   bridge,
	})
	return step(m, tea.WindowSizeMsg{Width: 120, Height: 40}), sessions
}

func step(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func loggedIn() appsync.SessionMsg {
	return appsync.SessionMsg{Session: session.Session{UserID: "u1", Token: "tok", Role: model.RoleTechnician}}
}

func TestStartsOnLoginWhenSignedOut(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Equal(t, ViewLogin, m.CurrentView())
	assert.Contains(t, ansi.Strip(m.View()), "signed out")
}

func TestSessionRoutesBetweenLoginAndDashboard(t *testing.T) {
	m, _ := newTestModel(t)

	m = step(m, loggedIn())
	assert.Equal(t, ViewDashboard, m.CurrentView())

	m = step(m, appsync.SessionMsg{})
	assert.Equal(t, ViewLogin, m.CurrentView())
}

func TestAuthResultStartsSession(t *testing.T) {
	m, sessions := newTestModel(t)

	m = step(m, authResultMsg{
		result: &api.AuthResult{UserID: "u9", Token: "tok", Role: model.RoleSupervisor},
		email:  "sup@plant.io",
	})
	assert.True(t, sessions.IsLoggedIn())
	assert.Equal(t, model.RoleSupervisor, sessions.Role())
	assert.Empty(t, m.ErrorMessage())
}

func TestAuthFailureShowsError(t *testing.T) {
	m, sessions := newTestModel(t)

	next, cmd := m.Update(authResultMsg{err: &api.APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}})
	require.NotNil(t, cmd)
	m = next.(Model)
	assert.False(t, sessions.IsLoggedIn())

	var reported ui.RequestErrorMsg
	for _, msg := range flatten(cmd) {
		if r, ok := msg.(ui.RequestErrorMsg); ok {
			reported = r
		}
	}
	require.NotEmpty(t, reported.Message)
	m = step(m, reported)
	assert.Equal(t, "Invalid credentials", m.ErrorMessage())

	m = step(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.ErrorMessage())
}

func TestNotificationsBecomeToastsOnlyWhenSignedIn(t *testing.T) {
	m, _ := newTestModel(t)
	events := appsync.NotificationsMsg{Events: []model.Event{{ID: "1", Type: model.NotificationOverdue, Title: "Overdue"}}}

	m = step(m, events)
	assert.Empty(t, m.Toasts())

	m = step(m, loggedIn())
	m = step(m, events)
	require.Len(t, m.Toasts(), 1)
	assert.Contains(t, ansi.Strip(m.View()), "Overdue")

	m = step(m, appsync.SessionMsg{})
	assert.Empty(t, m.Toasts(), "logout clears alerts")
}

func TestDismissToastKey(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, loggedIn())
	m = step(m, appsync.NotificationsMsg{Events: []model.Event{
		{ID: "a", Title: "First"},
		{ID: "b", Title: "Second"},
	}})
	require.Len(t, m.Toasts(), 2)

	m = step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Len(t, m.Toasts(), 1)
	assert.Equal(t, "b", m.Toasts()[0].ID)
}

func TestBannerFollowsPushState(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, loggedIn())
	m = step(m, appsync.PushStateMsg{State: push.Reconnecting})
	assert.Contains(t, ansi.Strip(m.View()), ui.ReconnectingText)

	m = step(m, appsync.PushStateMsg{State: push.Connected})
	assert.NotContains(t, ansi.Strip(m.View()), ui.ReconnectingText)
}

func TestNoBannerWhileSignedOut(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, appsync.PushStateMsg{State: push.Disconnected})
	assert.NotContains(t, ansi.Strip(m.View()), ui.ReconnectingText)
}

func TestGlobalKeysSwitchViews(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, loggedIn())

	m = step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	assert.Equal(t, ViewInbox, m.CurrentView())

	m = step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Equal(t, ViewHelp, m.CurrentView())
	m = step(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewInbox, m.CurrentView())

	m = step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")})
	assert.Equal(t, ViewDashboard, m.CurrentView())
}

func TestLoginViewKeepsTypedKeys(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	assert.Equal(t, ViewLogin, m.CurrentView())
}

func TestLogoutKey(t *testing.T) {
	m, sessions := newTestModel(t)
	sessions.Login("u1", "tok", model.RoleViewer, time.Time{})
	m = step(m, loggedIn())

	step(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("L")})
	assert.False(t, sessions.IsLoggedIn())
}

func TestDetailLifecycle(t *testing.T) {
	m, _ := newTestModel(t)
	m = step(m, loggedIn())
	next, cmd := m.openDetail("n1")
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, ViewDetail, m.CurrentView())

	m = step(m, detail.BackMsg{})
	assert.Equal(t, ViewDashboard, m.CurrentView())

	next, _ = m.openDetail("n2")
	m = next.(Model)
	m = step(m, detail.RemovedMsg{ID: "n2"})
	assert.Equal(t, ViewDashboard, m.CurrentView())
	assert.Nil(t, m.detail)
}

func TestCancelledErrorsAreNotReported(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.Update(authResultMsg{err: context.Canceled})
	for _, msg := range flatten(cmd) {
		_, isErr := msg.(ui.RequestErrorMsg)
		assert.False(t, isErr)
	}
}

// flatten runs cmd and any batch it returns, skipping commands that would
// block such as form cursors and ticks.
func flatten(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(50 * time.Millisecond):
		return nil
	}
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, flatten(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}
