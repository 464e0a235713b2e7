// Package dashboard is the landing view after sign-in: who is signed in,
// the push connection state and the four latest notifications.
package dashboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/keys"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
	"github.com/nhle/petropulse/internal/theme"
	"github.com/nhle/petropulse/internal/ui"
)

// LatestMsg carries the result of GET /notifications/lastfour.
type LatestMsg struct {
	scope *api.Scope
	Items []model.Notification
	Err   error
}

// SelectedMsg is sent when the user opens one of the latest notifications.
type SelectedMsg struct {
	ID string
}

// Model is the dashboard view.
type Model struct {
	scope   *api.Scope
	service *api.Notifications
	keys    *keys.KeyMap

	session session.Session
	state   push.State
	latest  []model.Notification
	cursor  int

	width  int
	height int
}

// New creates a dashboard whose calls go through scope.
func New(scope *api.Scope, k *keys.KeyMap, width, height int) Model {
	return Model{
		scope:   scope,
		service: api.NewNotifications(scope),
		keys:    k,
		width:   width,
		height:  height,
	}
}

// Init fetches the latest notifications.
func (m Model) Init() tea.Cmd {
	return m.Refresh()
}

// Close cancels the view's outstanding calls.
func (m Model) Close() {
	m.scope.Close()
}

// Scope returns the scope the view's calls run in.
func (m Model) Scope() *api.Scope {
	return m.scope
}

// Refresh refetches the latest notifications.
func (m Model) Refresh() tea.Cmd {
	scope, svc := m.scope, m.service
	return func() tea.Msg {
		items, err := svc.LastFour(context.Background())
		return LatestMsg{scope: scope, Items: items, Err: err}
	}
}

// SetSession updates the signed-in summary.
func (m *Model) SetSession(s session.Session) {
	m.session = s
}

// SetPushState updates the connection indicator.
func (m *Model) SetPushState(s push.State) {
	m.state = s
}

// Latest returns the notifications shown.
func (m Model) Latest() []model.Notification {
	return append([]model.Notification(nil), m.latest...)
}

// Update handles messages for the dashboard.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LatestMsg:
		if msg.scope != m.scope || m.scope.Closed() {
			return m, nil
		}
		if msg.Err != nil {
			return m, ui.ReportError(m.scope, msg.Err)
		}
		m.latest = msg.Items
		m.cursor = min(m.cursor, max(0, len(m.latest)-1))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Up):
			m.cursor = max(0, m.cursor-1)
		case key.Matches(msg, m.keys.Down):
			m.cursor = min(max(0, len(m.latest)-1), m.cursor+1)
		case key.Matches(msg, m.keys.Select):
			if m.cursor < len(m.latest) {
				id := m.latest[m.cursor].ID
				return m, func() tea.Msg { return SelectedMsg{ID: id} }
			}
		case key.Matches(msg, m.keys.Refresh):
			return m, m.Refresh()
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Welcome back"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s  %s\n", metaStyle.Render("Role:"), string(m.session.Role))
	if !m.session.Expiry.IsZero() {
		fmt.Fprintf(&b, "%s  %s\n", metaStyle.Render("Session until:"), m.session.Expiry.Local().Format("15:04"))
	}
	fmt.Fprintf(&b, "%s  %s\n\n", metaStyle.Render("Live updates:"), stateLabel(m.state))

	b.WriteString(titleStyle.Render("Latest notifications"))
	b.WriteString("\n")
	switch {
	case len(m.latest) == 0 && m.scope.Loading():
		b.WriteString(theme.DimmedStyle.Render("Loading..."))
	case len(m.latest) == 0:
		b.WriteString(theme.DimmedStyle.Render("Nothing new."))
	default:
		for i, n := range m.latest {
			cat := theme.CategoryFor(n.Type)
			line := fmt.Sprintf("%s %s", theme.CategoryStyle(n.Type).Render(cat.Icon), n.Title)
			if !n.Read {
				line += " " + theme.UnreadStyle.Render("•")
			}
			if i == m.cursor {
				b.WriteString(theme.SelectedItemStyle.Render(line))
			} else {
				b.WriteString(theme.ListItemStyle.Render(line))
			}
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Render(b.String())
}

// SetSize updates the dashboard dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func stateLabel(s push.State) string {
	switch s {
	case push.Connected:
		return lipgloss.NewStyle().Foreground(theme.ColorGreen).Render("connected")
	case push.Connecting, push.Reconnecting:
		return lipgloss.NewStyle().Foreground(theme.ColorYellow).Render(s.String())
	default:
		return theme.DimmedStyle.Render(s.String())
	}
}
