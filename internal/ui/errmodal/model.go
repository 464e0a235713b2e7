// Package errmodal shows the latest request error until the user
// acknowledges it.
package errmodal

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/theme"
	"github.com/nhle/petropulse/internal/ui"
)

// ClosedMsg is sent when the user dismisses the modal.
type ClosedMsg struct{}

var closeKey = key.NewBinding(
	key.WithKeys("enter", "esc"),
	key.WithHelp("enter", "okay"),
)

// Model is the error dialog. The zero value is hidden.
type Model struct {
	scope   *api.Scope
	message string
	width   int
	height  int
}

// New returns a hidden modal.
func New(width, height int) Model {
	return Model{width: width, height: height}
}

// Show replaces whatever was shown with the error in msg.
func (m Model) Show(msg ui.RequestErrorMsg) Model {
	m.scope = msg.Scope
	m.message = msg.Message
	if m.message == "" {
		m.message = api.GenericMessage
	}
	return m
}

// Visible reports whether an error is on screen.
func (m Model) Visible() bool {
	return m.message != ""
}

// Message returns the error text shown.
func (m Model) Message() string {
	return m.message
}

// Update closes the modal on enter or esc and clears the owning scope's
// recorded error.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok || !m.Visible() || !key.Matches(k, closeKey) {
		return m, nil
	}
	if m.scope != nil {
		m.scope.ClearError()
	}
	m.scope = nil
	m.message = ""
	return m, func() tea.Msg { return ClosedMsg{} }
}

// View renders the dialog centred in the available area.
func (m Model) View() string {
	if !m.Visible() {
		return ""
	}
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorRed).Render("Error")
	body := lipgloss.NewStyle().Width(min(50, max(20, m.width-10))).Render(m.message)
	hint := theme.HelpStyle.Render(closeKey.Help().Key + " " + closeKey.Help().Desc)

	box := theme.ErrorModalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", hint))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// SetSize updates the dimensions used for centring.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
