package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/petropulse/internal/api"
)

// RequestErrorMsg asks the root model to show the error modal for a failed
// request issued through Scope.
type RequestErrorMsg struct {
	Scope   *api.Scope
	Message string
}

// ReportError returns a command that raises the error modal for err, or nil
// when err is nil or the call was cancelled by its owner's teardown.
func ReportError(scope *api.Scope, err error) tea.Cmd {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, api.ErrScopeClosed) {
		return nil
	}
	if scope != nil && scope.Closed() {
		return nil
	}
	msg := RequestErrorMsg{Scope: scope, Message: api.Message(err)}
	return func() tea.Msg { return msg }
}
