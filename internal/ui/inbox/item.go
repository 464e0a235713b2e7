package inbox

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns the notification message.
func (i Item) Description() string { return i.Notification.Message }

// ItemDelegate implements list.ItemDelegate for rendering notifications.
type ItemDelegate struct {
	// Now is used for relative timestamps; nil means time.Now.
	Now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(it.Notification, index == m.Index()))
}

func (d ItemDelegate) renderLine(n model.Notification, selected bool) string {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	cat := theme.CategoryFor(n.Type)
	when := relativeTime(n.CreatedAt, now())

	var line string
	if n.Read {
		line = theme.DimmedStyle.Render(fmt.Sprintf("  %s %s  %s", cat.Icon, n.Title, when))
	} else {
		line = fmt.Sprintf("%s %s %s  %s",
			theme.UnreadStyle.Render("•"),
			theme.CategoryStyle(n.Type).Render(cat.Icon),
			theme.UnreadStyle.Render(n.Title),
			theme.DimmedStyle.Render(when),
		)
	}

	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Local().Format("Jan 02")
	}
}
