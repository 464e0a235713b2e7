package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/petropulse/internal/theme"
)

// ReconnectingText is shown in the banner while push is not connected.
const ReconnectingText = "Reconnecting to notifications..."

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int

	// BannerHeight is 1 while the reconnect banner is shown.
	BannerHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// WithBanner returns a copy of l sized for a visible banner when shown is
// true.
func (l Layout) WithBanner(shown bool) Layout {
	l.BannerHeight = 0
	if shown {
		l.BannerHeight = 1
	}
	return l
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header, banner and status bar.
func (l Layout) ContentHeight() int {
	return max(0, l.Height-l.HeaderHeight-l.BannerHeight-l.StatusBarHeight)
}

// RenderHeader renders the top header bar with a title and right-aligned
// status.
func (l Layout) RenderHeader(title string, status string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	gap := max(0, l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(statusRendered))

	filler := theme.HeaderStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.HeaderStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		filler,
		statusRendered,
	)
}

// RenderBanner renders the full-width reconnect banner.
func (l Layout) RenderBanner(text string) string {
	return theme.BannerStyle.Width(l.Width).Render(text)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := max(0, l.Width-lipgloss.Width(rendered))

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, optional banner, content area and status bar.
func (l Layout) RenderWithFrame(
	header string,
	banner string,
	content string,
	statusBar string,
) string {
	parts := []string{header}
	if banner != "" {
		parts = append(parts, banner)
	}
	parts = append(parts, content, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// OverlayTopRight splices overlay onto view so that its right edge meets
// the right edge of the screen, starting at row top. Escape sequences on
// both sides of the overlay are preserved.
func (l Layout) OverlayTopRight(view, overlay string, top int) string {
	if overlay == "" {
		return view
	}
	overlayLines := strings.Split(overlay, "\n")
	overlayWidth := 0
	for _, line := range overlayLines {
		overlayWidth = max(overlayWidth, ansi.StringWidth(line))
	}
	anchorX := max(0, l.Width-overlayWidth)

	viewLines := strings.Split(view, "\n")
	for i, line := range overlayLines {
		row := top + i
		if row < 0 || row >= len(viewLines) {
			break
		}
		// Pad short overlay lines so each covers the same columns.
		if pad := overlayWidth - ansi.StringWidth(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		prefix := ansi.Truncate(viewLines[row], anchorX, "")
		if gap := anchorX - ansi.StringWidth(prefix); gap > 0 {
			prefix += strings.Repeat(" ", gap)
		}
		viewLines[row] = prefix + "\x1b[0m" + line + "\x1b[0m"
	}
	return strings.Join(viewLines, "\n")
}
