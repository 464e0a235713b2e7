package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/credential"
	"github.com/nhle/petropulse/internal/ui/authform"
)

// authResultMsg carries the outcome of a login or signup call.
type authResultMsg struct {
	result   *api.AuthResult
	email    string
	password string
	remember bool
	err      error
}

// rememberedMsg carries the account found in the keyring, if any.
type rememberedMsg struct {
	email    string
	password string
}

func (m Model) login(msg authform.LoginSubmitMsg) tea.Cmd {
	scope, ctx := m.authScope, m.ctx
	return func() tea.Msg {
		res, err := api.NewAuth(scope).Login(ctx, msg.Input)
		return authResultMsg{
			result:   res,
			email:    msg.Input.Email,
			password: msg.Input.Password,
			remember: msg.Remember,
			err:      err,
		}
	}
}

func (m Model) signup(msg authform.SignupSubmitMsg) tea.Cmd {
	scope, ctx := m.authScope, m.ctx
	return func() tea.Msg {
		in := msg.Input
		if msg.ImagePath != "" {
			f, err := os.Open(msg.ImagePath)
			if err != nil {
				return authResultMsg{err: fmt.Errorf("opening profile image: %w", err)}
			}
			defer f.Close()
			in.Image = f
			in.ImageName = filepath.Base(msg.ImagePath)
		}
		res, err := api.NewAuth(scope).Signup(ctx, in)
		return authResultMsg{result: res, email: in.Email, err: err}
	}
}

// prefillRemembered looks up the first account stored in the keyring.
func (m Model) prefillRemembered() tea.Cmd {
	vault := m.deps.Vault
	if vault == nil {
		return nil
	}
	logger := m.logger
	return func() tea.Msg {
		accounts, err := vault.Accounts()
		if err != nil || len(accounts) == 0 {
			if err != nil {
				logger.Debug("listing remembered accounts", "error", err)
			}
			return nil
		}
		password, err := vault.Recall(accounts[0])
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			logger.Debug("recalling password", "error", err)
		}
		return rememberedMsg{email: accounts[0], password: password}
	}
}

func keyMatches(msg tea.KeyMsg, b key.Binding) bool {
	return key.Matches(msg, b)
}
