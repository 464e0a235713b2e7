// Package toast presents push notifications as transient alerts. Each alert
// is visible for a fixed lifetime, then spends a short exit phase before it
// is removed. The user may dismiss an alert at any point.
//
// Timers are tea.Tick commands tagged with the alert id and a generation
// number, so re-renders never reset them and a stale tick for an alert that
// is already gone is ignored.
package toast

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/theme"
)

// DefaultDuration is how long an alert stays visible.
const DefaultDuration = 10 * time.Second

// ExitDuration is the length of the exit phase between expiry and removal.
const ExitDuration = 300 * time.Millisecond

// ExpiredMsg ends the visible lifetime of one alert.
type ExpiredMsg struct {
	ID  string
	Gen uint64
}

// RemoveMsg ends the exit phase of one alert.
type RemoveMsg struct {
	ID  string
	Gen uint64
}

// Alert is one entry of the active set.
type Alert struct {
	model.Event
	Category theme.Category
	ShownAt  time.Time
	Exiting  bool

	gen uint64
}

type tickFunc func(time.Duration, func(time.Time) tea.Msg) tea.Cmd

// Model is the alert presenter.
type Model struct {
	alerts   []Alert
	duration time.Duration
	clock    clock.Clock
	gen      uint64
	removed  func(id string)
	tick     tickFunc
}

// Option configures a Model.
type Option func(*Model)

// WithDuration sets the visible lifetime. Values <= 0 keep the default.
func WithDuration(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithClock sets the clock used to stamp ShownAt.
func WithClock(c clock.Clock) Option {
	return func(m *Model) { m.clock = c }
}

// WithRemoved registers a hook called once for every alert that leaves the
// active set.
func WithRemoved(fn func(id string)) Option {
	return func(m *Model) { m.removed = fn }
}

// New creates an empty presenter.
func New(opts ...Option) Model {
	m := Model{
		duration: DefaultDuration,
		clock:    clock.Real(),
		tick:     tea.Tick,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Duration returns the configured visible lifetime.
func (m Model) Duration() time.Duration {
	return m.duration
}

// Show adds e to the active set and returns the command that expires it.
// e must already carry an id.
func (m Model) Show(e model.Event) (Model, tea.Cmd) {
	m.gen++
	a := Alert{
		Event:    e,
		Category: theme.CategoryFor(e.Type),
		ShownAt:  m.clock.Now(),
		gen:      m.gen,
	}
	m.alerts = append(append([]Alert(nil), m.alerts...), a)

	id, gen := e.ID, a.gen
	return m, m.tick(m.duration, func(time.Time) tea.Msg {
		return ExpiredMsg{ID: id, Gen: gen}
	})
}

// Dismiss removes every alert with the given id. Unknown ids are a no-op.
func (m Model) Dismiss(id string) Model {
	kept := make([]Alert, 0, len(m.alerts))
	var gone []string
	for _, a := range m.alerts {
		if a.ID == id {
			gone = append(gone, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	if len(gone) == 0 {
		return m
	}
	m.alerts = kept
	for _, g := range gone {
		m.notifyRemoved(g)
	}
	return m
}

// DismissOldest removes the alert that has been on screen the longest.
func (m Model) DismissOldest() Model {
	if len(m.alerts) == 0 {
		return m
	}
	return m.removeAt(0)
}

// Update handles the expiry and removal ticks.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ExpiredMsg:
		i := m.index(msg.ID, msg.Gen)
		if i < 0 || m.alerts[i].Exiting {
			return m, nil
		}
		m.alerts = append([]Alert(nil), m.alerts...)
		m.alerts[i].Exiting = true
		id, gen := msg.ID, msg.Gen
		return m, m.tick(ExitDuration, func(time.Time) tea.Msg {
			return RemoveMsg{ID: id, Gen: gen}
		})

	case RemoveMsg:
		i := m.index(msg.ID, msg.Gen)
		if i < 0 {
			return m, nil
		}
		return m.removeAt(i), nil
	}
	return m, nil
}

// Alerts returns a copy of the active set, oldest first.
func (m Model) Alerts() []Alert {
	return append([]Alert(nil), m.alerts...)
}

// Len returns the number of alerts on screen, exiting ones included.
func (m Model) Len() int {
	return len(m.alerts)
}

// Remaining returns how much visible lifetime the alert with id has left.
// It is zero for exiting or unknown alerts.
func (m Model) Remaining(id string) time.Duration {
	for _, a := range m.alerts {
		if a.ID != id || a.Exiting {
			continue
		}
		left := m.duration - m.clock.Now().Sub(a.ShownAt)
		if left < 0 {
			return 0
		}
		return left
	}
	return 0
}

// View renders the alerts as a column, newest at the bottom.
func (m Model) View() string {
	if len(m.alerts) == 0 {
		return ""
	}
	boxes := make([]string, 0, len(m.alerts))
	for _, a := range m.alerts {
		boxes = append(boxes, renderAlert(a))
	}
	return lipgloss.JoinVertical(lipgloss.Left, boxes...)
}

func renderAlert(a Alert) string {
	accent := theme.CategoryStyle(a.Type)
	title := accent.Render(a.Category.Icon + " " + a.Title)

	lines := []string{title}
	if msg := strings.TrimSpace(a.Message); msg != "" {
		lines = append(lines, msg)
	}
	if !a.CreatedAt.IsZero() {
		lines = append(lines, theme.DimmedStyle.Render(a.CreatedAt.Local().Format(time.Kitchen)))
	}

	body := strings.Join(lines, "\n")
	if a.Exiting {
		body = theme.DimmedStyle.Render(body)
	}
	return theme.ToastStyle(a.Type, a.Exiting).Render(body)
}

func (m Model) index(id string, gen uint64) int {
	for i, a := range m.alerts {
		if a.ID == id && a.gen == gen {
			return i
		}
	}
	return -1
}

func (m Model) removeAt(i int) Model {
	id := m.alerts[i].ID
	kept := make([]Alert, 0, len(m.alerts)-1)
	kept = append(kept, m.alerts[:i]...)
	kept = append(kept, m.alerts[i+1:]...)
	m.alerts = kept
	m.notifyRemoved(id)
	return m
}

func (m Model) notifyRemoved(id string) {
	if m.removed != nil {
		m.removed(id)
	}
}
