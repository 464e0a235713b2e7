// Package inbox is the durable notification list.
package inbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/keys"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/store"
	"github.com/nhle/petropulse/internal/theme"
	"github.com/nhle/petropulse/internal/ui"
)

// LoadedMsg carries a notification list, either from the cache or from the
// backend.
type LoadedMsg struct {
	scope  *api.Scope
	Items  []model.Notification
	Cached bool
	Err    error
}

// MarkedMsg reports the outcome of a mark-read call.
type MarkedMsg struct {
	scope *api.Scope
	ID    string
	Err   error
}

// SelectedMsg is sent when the user opens a notification.
type SelectedMsg struct {
	ID string
}

// Model is the notification list view.
type Model struct {
	list    list.Model
	scope   *api.Scope
	service *api.Notifications
	cache   store.NotificationCache
	keys    *keys.KeyMap
	logger  *slog.Logger
	loaded  bool
	width   int
	height  int
}

// New creates an inbox whose calls go through scope. cache may be nil.
func New(scope *api.Scope, cache store.NotificationCache, k *keys.KeyMap, logger *slog.Logger, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, max(0, height-2))
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:    l,
		scope:   scope,
		service: api.NewNotifications(scope),
		cache:   cache,
		keys:    k,
		logger:  logger,
		width:   width,
		height:  height,
	}
}

// Init loads the cached copy and refreshes it from the backend.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCached(), m.Refresh())
}

// Close cancels the view's outstanding calls.
func (m Model) Close() {
	m.scope.Close()
}

// Scope returns the scope the view issues calls through.
func (m Model) Scope() *api.Scope {
	return m.scope
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.scope != m.scope || m.scope.Closed() {
			return m, nil
		}
		if msg.Err != nil {
			return m, ui.ReportError(m.scope, msg.Err)
		}
		// A late cache read must not overwrite fresh data.
		if msg.Cached && m.loaded {
			return m, nil
		}
		if !msg.Cached {
			m.loaded = true
		}
		return m, m.setItems(msg.Items)

	case MarkedMsg:
		if msg.scope != m.scope || m.scope.Closed() {
			return m, nil
		}
		if msg.Err != nil {
			return m, ui.ReportError(m.scope, msg.Err)
		}
		return m, m.markLocal(msg.ID)

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	// Delegate to list model for other messages
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		it, ok := m.list.SelectedItem().(Item)
		if !ok {
			return m, nil
		}
		id := it.Notification.ID
		return m, func() tea.Msg { return SelectedMsg{ID: id} }

	case key.Matches(msg, m.keys.MarkRead):
		it, ok := m.list.SelectedItem().(Item)
		if !ok || it.Notification.Read {
			return m, nil
		}
		return m, m.markRead(it.Notification.ID)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.Refresh()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the inbox.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		style := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		if m.scope.Loading() {
			return style.Render("Loading notifications...")
		}
		return style.Render("No notifications yet.")
	}
	return m.list.View()
}

// Items returns the notifications currently listed.
func (m Model) Items() []model.Notification {
	items := m.list.Items()
	out := make([]model.Notification, 0, len(items))
	for _, it := range items {
		if n, ok := it.(Item); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

// Unread counts the unread notifications listed.
func (m Model) Unread() int {
	n := 0
	for _, it := range m.Items() {
		if !it.Read {
			n++
		}
	}
	return n
}

// Refresh fetches the list from the backend and re-caches it.
func (m Model) Refresh() tea.Cmd {
	scope, svc, cache, logger := m.scope, m.service, m.cache, m.logger
	return func() tea.Msg {
		items, err := svc.List(context.Background())
		if err == nil && cache != nil {
			if cerr := cache.ReplaceNotifications(context.Background(), items); cerr != nil {
				logger.Warn("caching notifications", "error", cerr)
			}
		}
		return LoadedMsg{scope: scope, Items: items, Err: err}
	}
}

// Remove drops a notification from the list, e.g. after it was deleted from
// the detail view.
func (m *Model) Remove(id string) {
	items := m.list.Items()
	for i, it := range items {
		if n, ok := it.(Item); ok && n.Notification.ID == id {
			m.list.RemoveItem(i)
			return
		}
	}
}

// MarkRead flags a listed notification as read without a backend call.
func (m *Model) MarkRead(id string) {
	_ = m.markLocal(id)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, max(0, height-2))
}

func (m *Model) setItems(ns []model.Notification) tea.Cmd {
	items := make([]list.Item, len(ns))
	for i, n := range ns {
		items[i] = Item{Notification: n}
	}
	cmd := m.list.SetItems(items)
	m.list.Title = m.title()
	return cmd
}

func (m *Model) markLocal(id string) tea.Cmd {
	for i, it := range m.list.Items() {
		n, ok := it.(Item)
		if !ok || n.Notification.ID != id {
			continue
		}
		n.Notification.Read = true
		cmd := m.list.SetItem(i, n)
		m.list.Title = m.title()
		return cmd
	}
	return nil
}

func (m Model) title() string {
	if unread := m.Unread(); unread > 0 {
		return fmt.Sprintf("Notifications (%d unread)", unread)
	}
	return "Notifications"
}

func (m Model) loadCached() tea.Cmd {
	if m.cache == nil {
		return nil
	}
	scope, cache, logger := m.scope, m.cache, m.logger
	return func() tea.Msg {
		items, err := cache.GetNotifications(context.Background(), store.NotificationFilter{})
		if err != nil {
			logger.Warn("reading notification cache", "error", err)
			return nil
		}
		return LoadedMsg{scope: scope, Items: items, Cached: true}
	}
}

func (m Model) markRead(id string) tea.Cmd {
	scope, svc, cache, logger := m.scope, m.service, m.cache, m.logger
	return func() tea.Msg {
		err := svc.MarkRead(context.Background(), id)
		if err == nil && cache != nil {
			if cerr := cache.MarkNotificationRead(context.Background(), id); cerr != nil {
				logger.Warn("updating notification cache", "id", id, "error", cerr)
			}
		}
		return MarkedMsg{scope: scope, ID: id, Err: err}
	}
}
