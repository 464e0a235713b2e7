package detail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/keys"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/store"
	"github.com/nhle/petropulse/internal/theme"
	"github.com/nhle/petropulse/internal/ui"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// LoadedMsg carries the opened notification.
type LoadedMsg struct {
	scope        *api.Scope
	Notification *model.Notification
	Err          error
}

// DeletedMsg is sent once the notification was deleted on the backend.
type DeletedMsg struct {
	scope *api.Scope
	ID    string
	Err   error
}

// RemovedMsg tells the parent the notification is gone and the view should
// close.
type RemovedMsg struct {
	ID string
}

// Model is the notification detail view component.
type Model struct {
	id           string
	notification *model.Notification
	viewport     viewport.Model
	scope        *api.Scope
	service      *api.Notifications
	cache        store.NotificationCache
	keys         *keys.KeyMap
	logger       *slog.Logger

	confirm   *huh.Form
	confirmed *bool

	width  int
	height int
}

// New creates a detail view for the notification id. cache may be nil.
func New(id string, scope *api.Scope, cache store.NotificationCache, k *keys.KeyMap, logger *slog.Logger, width, height int) Model {
	vp := viewport.New(width, max(0, height-2))
	vp.Style = lipgloss.NewStyle()

	return Model{
		id:        id,
		viewport:  vp,
		scope:     scope,
		service:   api.NewNotifications(scope),
		cache:     cache,
		keys:      k,
		logger:    logger,
		confirmed: new(bool),
		width:     width,
		height:    height,
	}
}

// Init opens the notification, marking it read when it was unread.
func (m Model) Init() tea.Cmd {
	scope, svc, cache, logger, id := m.scope, m.service, m.cache, m.logger, m.id
	return func() tea.Msg {
		n, err := svc.Open(context.Background(), id)
		if err == nil && cache != nil {
			if cerr := cache.UpsertNotification(context.Background(), *n); cerr != nil {
				logger.Warn("caching notification", "id", id, "error", cerr)
			}
		}
		return LoadedMsg{scope: scope, Notification: n, Err: err}
	}
}

// Close cancels the view's outstanding calls.
func (m Model) Close() {
	m.scope.Close()
}

// ID returns the notification id the view shows.
func (m Model) ID() string {
	return m.id
}

// Notification returns the loaded notification, or nil.
func (m Model) Notification() *model.Notification {
	return m.notification
}

// Confirming reports whether the delete confirmation is open.
func (m Model) Confirming() bool {
	return m.confirm != nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if msg.scope != m.scope || m.scope.Closed() {
			return m, nil
		}
		if msg.Notification != nil {
			m.notification = msg.Notification
			m.viewport.SetContent(m.renderContent())
			m.viewport.GotoTop()
		}
		return m, ui.ReportError(m.scope, msg.Err)

	case DeletedMsg:
		if msg.scope != m.scope || m.scope.Closed() {
			return m, nil
		}
		if msg.Err != nil {
			return m, ui.ReportError(m.scope, msg.Err)
		}
		id := msg.ID
		return m, func() tea.Msg { return RemovedMsg{ID: id} }
	}

	if m.confirm != nil {
		return m.updateConfirm(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.Delete):
			if m.notification == nil {
				return m, nil
			}
			*m.confirmed = false
			m.confirm = huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title("Delete this notification?").
						Affirmative("Delete").
						Negative("Cancel").
						Value(m.confirmed),
				),
			).WithShowHelp(false)
			return m, m.confirm.Init()
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.confirm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.confirm = f
	}

	switch m.confirm.State {
	case huh.StateCompleted:
		m.confirm = nil
		if *m.confirmed {
			return m, m.delete()
		}
		return m, nil
	case huh.StateAborted:
		m.confirm = nil
		return m, nil
	}
	return m, cmd
}

func (m Model) delete() tea.Cmd {
	scope, svc, cache, logger, id := m.scope, m.service, m.cache, m.logger, m.id
	return func() tea.Msg {
		err := svc.Delete(context.Background(), id)
		if err == nil && cache != nil {
			if cerr := cache.DeleteNotification(context.Background(), id); cerr != nil {
				logger.Warn("removing cached notification", "id", id, "error", cerr)
			}
		}
		return DeletedMsg{scope: scope, ID: id, Err: err}
	}
}

// View renders the detail view.
func (m Model) View() string {
	centered := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.notification == nil {
		if m.scope.Loading() {
			return centered.Render("Loading notification...")
		}
		return centered.Render("Notification not available")
	}

	if m.confirm != nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.viewport.View(),
			theme.BorderStyle.Padding(0, 1).Render(m.confirm.View()),
		)
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	n := m.notification
	var sections []string

	cat := theme.CategoryFor(n.Type)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	badge := theme.CategoryStyle(n.Type).Render(cat.Icon + " " + strings.ToUpper(cat.Name))
	state := theme.DimmedStyle.Render("read")
	if !n.Read {
		state = theme.UnreadStyle.Render("unread")
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, badge, "  ", state))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	if !n.CreatedAt.IsZero() {
		sections = append(sections, fmt.Sprintf(
			"%s  %s",
			metaStyle.Render("Received:"),
			valStyle.Render(n.CreatedAt.Local().Format("2006-01-02 15:04")),
		))
	}
	sections = append(sections, fmt.Sprintf("%s        %s", metaStyle.Render("ID:"), valStyle.Render(n.ID)))

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(0, min(m.width-4, 80))))
	sections = append(sections, "", separator, "")

	body := n.Message
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No message")
	}
	sections = append(sections, body)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(0, height-2)
	if m.notification != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
