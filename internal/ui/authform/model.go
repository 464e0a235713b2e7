// Package authform is the login and signup form shown while no session is
// active.
package authform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-playground/validator/v10"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/theme"
)

// Mode selects which form is shown.
type Mode int

const (
	ModeLogin Mode = iota
	ModeSignup
)

// LoginSubmitMsg is dispatched when the login form is completed.
type LoginSubmitMsg struct {
	Input    api.LoginInput
	Remember bool
}

// SignupSubmitMsg is dispatched when the signup form is completed.
// ImagePath is empty when no profile image was given.
type SignupSubmitMsg struct {
	Input     api.SignupInput
	ImagePath string
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

var toggleKey = key.NewBinding(
	key.WithKeys("ctrl+n"),
	key.WithHelp("ctrl+n", "switch login/signup"),
)

var validate = validator.New()

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	email    string
	name     string
	password string
	role     string
	image    string
	remember bool
}

// Model is the Bubble Tea model for the auth form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	mode   Mode
	status string
	width  int
	height int
}

// New creates a login form prefilled with email.
func New(email string, width, height int) Model {
	m := Model{
		fb:     &formBindings{email: email, role: string(model.RoleTechnician)},
		width:  width,
		height: height,
	}
	m.form = m.buildForm()
	return m
}

// Init focuses the first field.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Mode returns the active mode.
func (m Model) Mode() Mode {
	return m.mode
}

// SetStatus shows a one-line message under the form, e.g. "Signing in...".
func (m *Model) SetStatus(s string) {
	m.status = s
}

// Prefill replaces the email and password, e.g. with a remembered account.
func (m *Model) Prefill(email, password string) tea.Cmd {
	m.fb.email = email
	m.fb.password = password
	m.fb.remember = password != ""
	m.mode = ModeLogin
	m.form = m.buildForm()
	return m.form.Init()
}

// Reset rebuilds the form in the current mode, keeping the email.
func (m *Model) Reset() tea.Cmd {
	m.fb.password = ""
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the auth form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, toggleKey) {
		if m.mode == ModeLogin {
			m.mode = ModeSignup
		} else {
			m.mode = ModeLogin
		}
		m.status = ""
		return m, m.Reset()
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		submit := m.submit()
		m.form = m.buildForm()
		return m, tea.Batch(submit, m.form.Init())
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// View renders the auth form.
func (m Model) View() string {
	titleText := "Sign in to PetroPulse"
	if m.mode == ModeSignup {
		titleText = "Create a PetroPulse account"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render(titleText), m.form.View()}
	if m.status != "" {
		parts = append(parts, theme.DimmedStyle.Render(m.status))
	}
	parts = append(parts, theme.HelpStyle.Render(toggleKey.Help().Key+" "+toggleKey.Help().Desc))

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(strings.Join(parts, "\n"))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Placeholder("you@plant.example").
			Value(&m.fb.email).
			Validate(validateVar("Email", "required,email")),
	}
	if m.mode == ModeSignup {
		fields = append(fields,
			huh.NewInput().
				Title("Name").
				Value(&m.fb.name).
				Validate(validateVar("Name", "required,min=2")),
		)
	}
	fields = append(fields,
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&m.fb.password).
			Validate(validateVar("Password", "required,min=6")),
	)

	if m.mode == ModeSignup {
		opts := make([]huh.Option[string], len(model.SignupRoles))
		for i, r := range model.SignupRoles {
			opts[i] = huh.NewOption(string(r), string(r))
		}
		fields = append(fields,
			huh.NewSelect[string]().
				Title("Role").
				Options(opts...).
				Value(&m.fb.role),
			huh.NewInput().
				Title("Profile image").
				Placeholder("path to an image file (optional)").
				Value(&m.fb.image),
		)
	} else {
		fields = append(fields,
			huh.NewConfirm().
				Title("Remember password in the system keyring?").
				Value(&m.fb.remember),
		)
	}

	return huh.NewForm(
		huh.NewGroup(fields...),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) submit() tea.Cmd {
	email := strings.TrimSpace(m.fb.email)
	if m.mode == ModeLogin {
		msg := LoginSubmitMsg{
			Input:    api.LoginInput{Email: email, Password: m.fb.password},
			Remember: m.fb.remember,
		}
		return func() tea.Msg { return msg }
	}

	msg := SignupSubmitMsg{
		Input: api.SignupInput{
			Email:    email,
			Name:     strings.TrimSpace(m.fb.name),
			Password: m.fb.password,
			Role:     model.Role(m.fb.role),
		},
		ImagePath: strings.TrimSpace(m.fb.image),
	}
	return func() tea.Msg { return msg }
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 80)
}

func validateVar(field, tag string) func(string) error {
	return func(s string) error {
		err := validate.Var(strings.TrimSpace(s), tag)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s %s", field, describe(verrs[0]))
		}
		return fmt.Errorf("%s is invalid", field)
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
