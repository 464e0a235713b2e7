package detail

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/keys"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/store"
	"github.com/nhle/petropulse/internal/ui"
	"github.com/nhle/petropulse/tests/testutil"
)

type backend struct {
	mu      sync.Mutex
	read    []string
	deleted []string
}

func newDetail(t *testing.T, id string) (Model, *backend, *store.SQLiteStore) {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "n1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Notification not found."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"notification": model.Notification{
			ID: "n1", Type: model.NotificationDowntime, Title: "Line 3 down", Message: "Conveyor stopped",
		}})
	})
	mux.HandleFunc("PATCH /notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.read = append(b.read, r.PathValue("id"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.deleted = append(b.deleted, r.PathValue("id"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cache := testutil.NewTestStore(t)
	scope := api.NewClient(srv.URL, nil).NewScope(context.Background())
	t.Cleanup(scope.Close)
	return New(id, scope, cache, keys.DefaultKeyMap(), slog.Default(), 80, 20), b, cache
}

func TestOpenMarksReadAndCaches(t *testing.T) {
	m, b, cache := newDetail(t, "n1")

	msg := m.Init()()
	loaded, ok := msg.(LoadedMsg)
	require.True(t, ok, "got %T", msg)
	require.NoError(t, loaded.Err)
	assert.True(t, loaded.Notification.Read)

	m, cmd := m.Update(loaded)
	assert.Nil(t, cmd)
	require.NotNil(t, m.Notification())
	view := ansi.Strip(m.View())
	assert.Contains(t, view, "Line 3 down")
	assert.Contains(t, view, "Conveyor stopped")

	b.mu.Lock()
	assert.Equal(t, []string{"n1"}, b.read)
	b.mu.Unlock()

	got, err := cache.GetNotificationByID(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Read)
}

func TestOpenMissingReportsError(t *testing.T) {
	m, _, _ := newDetail(t, "gone")

	m, cmd := m.Update(m.Init()())
	require.NotNil(t, cmd)
	report, ok := cmd().(ui.RequestErrorMsg)
	require.True(t, ok)
	assert.Equal(t, "Notification not found.", report.Message)
	assert.Contains(t, ansi.Strip(m.View()), "Notification not available")
}

func TestDeleteEmitsRemoved(t *testing.T) {
	m, b, _ := newDetail(t, "n1")
	m, _ = m.Update(m.Init()())

	msg := m.delete()()
	deleted, ok := msg.(DeletedMsg)
	require.True(t, ok)
	require.NoError(t, deleted.Err)

	_, cmd := m.Update(deleted)
	require.NotNil(t, cmd)
	assert.Equal(t, RemovedMsg{ID: "n1"}, cmd())

	b.mu.Lock()
	assert.Equal(t, []string{"n1"}, b.deleted)
	b.mu.Unlock()
}

func TestDeleteKeyOpensConfirm(t *testing.T) {
	m, _, _ := newDetail(t, "n1")

	// Nothing to delete before the notification loads.
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	assert.False(t, m.Confirming())

	m, _ = m.Update(m.Init()())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	assert.True(t, m.Confirming())
	assert.Contains(t, ansi.Strip(m.View()), "Delete this notification?")
}

func TestBackKey(t *testing.T) {
	m, _, _ := newDetail(t, "n1")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BackMsg{}, cmd())
}

func TestClosedViewIgnoresResults(t *testing.T) {
	m, _, _ := newDetail(t, "n1")
	msg := m.Init()()
	m.Close()

	m, cmd := m.Update(msg)
	assert.Nil(t, cmd)
	assert.Nil(t, m.Notification())
}
