package app

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/credential"
	"github.com/nhle/petropulse/internal/keys"
	"github.com/nhle/petropulse/internal/metrics"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
	"github.com/nhle/petropulse/internal/store"
	appsync "github.com/nhle/petropulse/internal/sync"
	"github.com/nhle/petropulse/internal/ui"
	"github.com/nhle/petropulse/internal/ui/authform"
	"github.com/nhle/petropulse/internal/ui/dashboard"
	"github.com/nhle/petropulse/internal/ui/detail"
	"github.com/nhle/petropulse/internal/ui/errmodal"
	helpview "github.com/nhle/petropulse/internal/ui/help"
	"github.com/nhle/petropulse/internal/ui/inbox"
	"github.com/nhle/petropulse/internal/ui/toast"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewDashboard
	ViewInbox
	ViewDetail
	ViewHelp
)

// Deps are the long-lived components the UI drives. Cache, Vault and
// Metrics may be nil.
type Deps struct {
	Config   *model.AppConfig
	Sessions *session.Store
	Client   *api.Client
	Push     *push.Manager
	Bridge   *appsync.Bridge
	Cache    store.NotificationCache
	Vault    *credential.Vault
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Model is the root Bubble Tea model that manages view routing, layout,
// the push banner and the toast column.
type Model struct {
	deps   Deps
	ctx    context.Context
	logger *slog.Logger

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	ready        bool

	authScope *api.Scope
	authForm  authform.Model
	dashboard dashboard.Model
	inbox     inbox.Model
	detail    *detail.Model
	helpView  helpview.Model
	errModal  errmodal.Model
	toasts    toast.Model

	session   session.Session
	pushState push.State
}

// New creates the root model. Views that issue requests get their own
// scope derived from ctx.
func New(ctx context.Context, deps Deps) Model {
	k := keys.DefaultKeyMap()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var toastOpts []toast.Option
	if deps.Config != nil {
		toastOpts = append(toastOpts, toast.WithDuration(deps.Config.Display.ToastDuration()))
	}
	if deps.Metrics != nil {
		mt := deps.Metrics
		toastOpts = append(toastOpts, toast.WithRemoved(func(string) { mt.AlertRemoved() }))
	}

	m := Model{
		deps:        deps,
		ctx:         ctx,
		logger:      logger,
		currentView: ViewLogin,
		layout:      ui.NewLayout(80, 24),
		keys:        k,
		authScope:   deps.Client.NewScope(ctx),
		authForm:    authform.New("", 80, 24),
		helpView:    helpview.New(k, 80, 24),
		errModal:    errmodal.New(80, 24),
		toasts:      toast.New(toastOpts...),
		session:     deps.Sessions.Current(),
		pushState:   push.Disconnected,
	}
	if m.session.LoggedIn() {
		m.mountSessionViews()
		m.currentView = ViewDashboard
	}
	return m
}

// Init starts the bridge and focuses the first view.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.deps.Bridge.Start()}
	if m.currentView == ViewLogin {
		cmds = append(cmds, m.authForm.Init(), m.prefillRemembered())
	} else {
		cmds = append(cmds, m.dashboard.Init(), m.inbox.Init())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case appsync.SessionMsg:
		return m.handleSession(msg.Session)

	case appsync.PushStateMsg:
		m.pushState = msg.State
		m.dashboard.SetPushState(msg.State)
		m.resize()
		return m, m.deps.Bridge.WaitForResult()

	case appsync.NotificationsMsg:
		cmds := []tea.Cmd{m.deps.Bridge.WaitForNotifications()}
		if !m.session.LoggedIn() {
			return m, tea.Batch(cmds...)
		}
		for _, e := range msg.Events {
			var cmd tea.Cmd
			m.toasts, cmd = m.toasts.Show(e)
			cmds = append(cmds, cmd)
		}
		if m.currentView == ViewDashboard {
			cmds = append(cmds, m.dashboard.Refresh())
		}
		return m, tea.Batch(cmds...)

	case toast.ExpiredMsg, toast.RemoveMsg:
		var cmd tea.Cmd
		m.toasts, cmd = m.toasts.Update(msg)
		return m, cmd

	case rememberedMsg:
		if msg.email == "" {
			return m, nil
		}
		return m, m.authForm.Prefill(msg.email, msg.password)

	case authform.LoginSubmitMsg:
		m.authForm.SetStatus("Signing in...")
		return m, m.login(msg)

	case authform.SignupSubmitMsg:
		m.authForm.SetStatus("Creating account...")
		return m, m.signup(msg)

	case authResultMsg:
		m.authForm.SetStatus("")
		if msg.err != nil {
			return m, tea.Batch(m.authForm.Reset(), ui.ReportError(m.authScope, msg.err))
		}
		m.startSession(msg)
		return m, nil

	case authform.CancelMsg:
		m.shutdown()
		return m, tea.Quit

	case ui.RequestErrorMsg:
		m.errModal = m.errModal.Show(msg)
		return m, nil

	case errmodal.ClosedMsg:
		return m, nil

	case dashboard.SelectedMsg:
		return m.openDetail(msg.ID)

	case inbox.SelectedMsg:
		return m.openDetail(msg.ID)

	case detail.LoadedMsg:
		if m.detail != nil && msg.Notification != nil && msg.Notification.ID == m.detail.ID() {
			m.inbox.MarkRead(msg.Notification.ID)
		}
		return m.updateDetail(msg)

	case detail.DeletedMsg:
		return m.updateDetail(msg)

	case detail.RemovedMsg:
		m.inbox.Remove(msg.ID)
		m.closeDetail()
		return m, m.dashboard.Refresh()

	case detail.BackMsg:
		m.closeDetail()
		return m, nil

	case tea.KeyMsg:
		if m.errModal.Visible() {
			var cmd tea.Cmd
			m.errModal, cmd = m.errModal.Update(msg)
			return m, cmd
		}
		if msg.String() == "ctrl+c" {
			m.shutdown()
			return m, tea.Quit
		}
		// The login form owns every other key.
		if m.currentView == ViewLogin {
			break
		}
		if m.detail != nil && m.detail.Confirming() {
			break
		}
		if next, cmd, handled := m.handleGlobalKey(msg); handled {
			return next, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKey runs the keys that work in every signed-in view.
func (m Model) handleGlobalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case keyMatches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit, true

	case keyMatches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil, true

	case keyMatches(msg, m.keys.Back) && m.currentView == ViewHelp:
		m.currentView = m.previousView
		return m, nil, true

	case keyMatches(msg, m.keys.Dashboard):
		m.closeDetail()
		m.currentView = ViewDashboard
		return m, m.dashboard.Refresh(), true

	case keyMatches(msg, m.keys.Inbox):
		m.closeDetail()
		m.currentView = ViewInbox
		return m, m.inbox.Refresh(), true

	case keyMatches(msg, m.keys.DismissToast):
		m.toasts = m.toasts.DismissOldest()
		return m, nil, true

	case keyMatches(msg, m.keys.Reconnect):
		pm := m.deps.Push
		return m, func() tea.Msg {
			pm.Reconnect()
			return nil
		}, true

	case keyMatches(msg, m.keys.Logout):
		m.deps.Sessions.Logout()
		return m, nil, true
	}
	return m, nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.authForm, cmd = m.authForm.Update(msg)
	case ViewDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewDetail:
		if m.detail != nil {
			var d detail.Model
			d, cmd = m.detail.Update(msg)
			m.detail = &d
		}
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	// Results for a view that is not active still belong to it.
	switch msg.(type) {
	case dashboard.LatestMsg:
		if m.currentView != ViewDashboard {
			m.dashboard, cmd = m.dashboard.Update(msg)
		}
	case inbox.LoadedMsg, inbox.MarkedMsg:
		if m.currentView != ViewInbox {
			m.inbox, cmd = m.inbox.Update(msg)
		}
	}

	return m, cmd
}

func (m Model) updateDetail(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.detail == nil {
		return m, nil
	}
	d, cmd := m.detail.Update(msg)
	m.detail = &d
	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "PetroPulse"
	if m.session.LoggedIn() {
		if unread := m.inbox.Unread(); unread > 0 {
			title = fmt.Sprintf("PetroPulse [%d unread]", unread)
		}
	}
	header := m.layout.RenderHeader(title, m.statusText())

	banner := ""
	if m.showBanner() {
		banner = m.layout.RenderBanner(ui.ReconnectingText)
	}

	content := m.renderContent()
	if m.errModal.Visible() {
		content = m.errModal.View()
	}
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	frame := m.layout.RenderWithFrame(header, banner, content, statusBar)
	if m.session.LoggedIn() {
		frame = m.layout.OverlayTopRight(frame, m.toasts.View(), m.layout.HeaderHeight+m.layout.BannerHeight)
	}
	return frame
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.authForm.View()
	case ViewDashboard:
		return m.dashboard.View()
	case ViewInbox:
		return m.inbox.View()
	case ViewDetail:
		if m.detail != nil {
			return m.detail.View()
		}
	case ViewHelp:
		return m.helpView.View()
	}
	return ""
}

func (m Model) statusText() string {
	if !m.session.LoggedIn() {
		return "signed out"
	}
	return fmt.Sprintf("%s | push %s", m.session.Role, m.pushState)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.errModal.Visible() {
		return "enter dismiss error"
	}
	switch m.currentView {
	case ViewLogin:
		return "enter submit | ctrl+n login/signup | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewDetail:
		return "esc back | d delete | j/k scroll | x dismiss toast"
	case ViewInbox:
		return "enter open | m mark read | r refresh | 1 dashboard | ? help | q quit"
	default:
		return "enter open | 2 notifications | r refresh | L log out | ? help | q quit"
	}
}

func (m Model) showBanner() bool {
	return m.session.LoggedIn() && m.pushState != push.Connected
}

func (m *Model) resize() {
	m.layout = m.layout.WithBanner(m.showBanner())
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	m.authForm.SetSize(w, h)
	m.dashboard.SetSize(w, h)
	if m.inbox.Scope() != nil {
		m.inbox.SetSize(w, h)
	}
	if m.detail != nil {
		m.detail.SetSize(w, h)
	}
	m.helpView.SetSize(w, h)
	m.errModal.SetSize(w, h)
}

func (m Model) handleSession(s session.Session) (tea.Model, tea.Cmd) {
	wasLoggedIn := m.session.LoggedIn()
	m.session = s
	wait := m.deps.Bridge.WaitForResult()

	switch {
	case s.LoggedIn() && !wasLoggedIn:
		m.mountSessionViews()
		m.currentView = ViewDashboard
		m.resize()
		return m, tea.Batch(wait, m.dashboard.Init(), m.inbox.Init())

	case !s.LoggedIn() && wasLoggedIn:
		m.unmountSessionViews()
		m.currentView = ViewLogin
		m.resize()
		return m, tea.Batch(wait, m.authForm.Reset())
	}

	m.dashboard.SetSession(s)
	return m, wait
}

// mountSessionViews creates the signed-in views, each with its own scope.
func (m *Model) mountSessionViews() {
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	m.dashboard = dashboard.New(m.deps.Client.NewScope(m.ctx), m.keys, w, h)
	m.dashboard.SetSession(m.session)
	m.dashboard.SetPushState(m.pushState)
	m.inbox = inbox.New(m.deps.Client.NewScope(m.ctx), m.deps.Cache, m.keys, m.logger, w, h)
}

// unmountSessionViews cancels every request the signed-in views issued
// and clears the toasts.
func (m *Model) unmountSessionViews() {
	m.closeDetail()
	if m.dashboard.Scope() != nil {
		m.dashboard.Close()
	}
	if m.inbox.Scope() != nil {
		m.inbox.Close()
	}
	for _, a := range m.toasts.Alerts() {
		m.toasts = m.toasts.Dismiss(a.ID)
	}
}

func (m Model) openDetail(id string) (tea.Model, tea.Cmd) {
	m.closeDetail()
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	d := detail.New(id, m.deps.Client.NewScope(m.ctx), m.deps.Cache, m.keys, m.logger, w, h)
	m.detail = &d
	m.previousView = m.currentView
	m.currentView = ViewDetail
	return m, d.Init()
}

func (m *Model) closeDetail() {
	if m.detail == nil {
		return
	}
	m.detail.Close()
	m.detail = nil
	if m.currentView == ViewDetail {
		m.currentView = m.previousView
		if m.currentView == ViewDetail || m.currentView == ViewHelp {
			m.currentView = ViewDashboard
		}
	}
}

func (m *Model) startSession(res authResultMsg) {
	expiry, _ := session.ExpiryFromToken(res.result.Token)
	if res.remember && m.deps.Vault != nil {
		if err := m.deps.Vault.Remember(res.email, res.password); err != nil {
			m.logger.Warn("remembering password", "error", err)
		}
	}
	m.deps.Sessions.Login(res.result.UserID, res.result.Token, res.result.Role, expiry)
}

// shutdown stops the bridge and cancels outstanding requests. The push
// manager is closed by whoever created it.
func (m *Model) shutdown() {
	m.deps.Bridge.Stop()
	m.authScope.Close()
	m.unmountSessionViews()
}

// CurrentView returns the active view.
func (m Model) CurrentView() ViewState {
	return m.currentView
}

// Toasts returns the alerts on screen.
func (m Model) Toasts() []toast.Alert {
	return m.toasts.Alerts()
}

// ErrorMessage returns the error shown in the modal, or "".
func (m Model) ErrorMessage() string {
	return m.errModal.Message()
}
