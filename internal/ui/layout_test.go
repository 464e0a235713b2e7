package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
)

func TestContentHeightAccountsForBanner(t *testing.T) {
	l := NewLayout(80, 24)
	assert.Equal(t, 22, l.ContentHeight())
	assert.Equal(t, 21, l.WithBanner(true).ContentHeight())
	assert.Equal(t, 22, l.WithBanner(true).WithBanner(false).ContentHeight())
	assert.Equal(t, 0, NewLayout(10, 1).ContentHeight())
}

func TestOverlayTopRight(t *testing.T) {
	l := NewLayout(10, 3)
	view := strings.Join([]string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"}, "\n")

	got := strings.Split(ansi.Strip(l.OverlayTopRight(view, "XY\nZ", 1)), "\n")
	assert.Equal(t, []string{"aaaaaaaaaa", "bbbbbbbbXY", "ccccccccZ "}, got)
}

func TestOverlayTopRightPadsShortLines(t *testing.T) {
	l := NewLayout(6, 2)
	got := strings.Split(ansi.Strip(l.OverlayTopRight("ab\n", "XY", 0)), "\n")
	assert.Equal(t, "ab  XY", got[0])
}

func TestOverlayTopRightClipsAtBottom(t *testing.T) {
	l := NewLayout(4, 1)
	got := ansi.Strip(l.OverlayTopRight("abcd", "1\n2\n3", 0))
	assert.Equal(t, "abc1", got)
}

func TestOverlayEmptyKeepsView(t *testing.T) {
	l := NewLayout(4, 1)
	assert.Equal(t, "abcd", l.OverlayTopRight("abcd", "", 0))
}
