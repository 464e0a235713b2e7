package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/petropulse/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the detail view content area.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// BannerStyle is the full-width strip shown while push is down.
var BannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#1A202C")).
	Background(ColorYellow).
	Padding(0, 1)

// UnreadStyle marks unread notifications.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// DimmedStyle renders read or secondary text.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ErrorModalStyle frames the request error dialog.
var ErrorModalStyle = lipgloss.NewStyle().
	Padding(1, 3).
	Border(lipgloss.DoubleBorder()).
	BorderForeground(ColorRed)

// ToastWidth is the fixed width of a rendered toast, border included.
const ToastWidth = 44

// Category is the presentation of one notification type.
type Category struct {
	Name  string
	Icon  string
	Color lipgloss.AdaptiveColor
}

var categories = map[model.NotificationType]Category{
	model.NotificationOverdue:  {Name: "overdue", Icon: "!", Color: ColorRed},
	model.NotificationDowntime: {Name: "downtime", Icon: "▲", Color: ColorOrange},
	model.NotificationAssigned: {Name: "assigned", Icon: "◆", Color: ColorBlue},
	model.NotificationPMDue:    {Name: "pm-due", Icon: "◷", Color: ColorMagenta},
	model.NotificationDone:     {Name: "done", Icon: "✓", Color: ColorGreen},
}

var defaultCategory = Category{Name: "default", Icon: "●", Color: ColorGray}

// CategoryFor maps every notification type, known or not, to a Category.
func CategoryFor(t model.NotificationType) Category {
	if c, ok := categories[t]; ok {
		return c
	}
	return defaultCategory
}

// CategoryStyle returns the bold accent style for a notification type.
func CategoryStyle(t model.NotificationType) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(CategoryFor(t).Color)
}

// ToastStyle returns the bordered box style for a toast of type t. Exiting
// toasts fade to the subtle border.
func ToastStyle(t model.NotificationType, exiting bool) lipgloss.Style {
	border := CategoryFor(t).Color
	if exiting {
		border = ColorSubtle
	}
	return lipgloss.NewStyle().
		Width(ToastWidth-2).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder(), false, false, false, true).
		BorderForeground(border)
}
