package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/credential"
	"github.com/nhle/petropulse/internal/metrics"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/session"
	"github.com/nhle/petropulse/internal/store"
)

// passwordEnv is read when --password is not given.
const passwordEnv = "PETROPULSE_PASSWORD"

// openVault opens the keyring. Tests swap it for an in-memory one.
var openVault = credential.Open

// sessionClock drives session expiry when set. Tests use a fake clock.
var sessionClock clock.Clock

// env holds the components a command runs against.
type env struct {
	cfg      *model.AppConfig
	logger   *slog.Logger
	store    *store.SQLiteStore
	sessions *session.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *api.Client

	// vault is nil when no keyring backend could be opened.
	vault *credential.Vault

	closers []func() error
}

func loadConfig(opts *options) (*model.AppConfig, error) {
	if err := model.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// newEnv loads the config and opens the store, keyring, session and
// client. Logs go to logOut.
func newEnv(opts *options, logOut io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: newLogger(cfg.Log.Level, logOut)}

	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.store = st
	e.closers = append(e.closers, st.Close)

	vault, err := openVault(filepath.Dir(cfg.Store.Path))
	if err != nil {
		e.logger.Warn("keyring unavailable, passwords will not be remembered", "error", err)
	} else {
		e.vault = vault
	}

	e.registry, e.metrics = metrics.NewRegistry()
	sopts := []session.Option{session.WithLogger(e.logger)}
	if sessionClock != nil {
		sopts = append(sopts, session.WithClock(sessionClock))
	}
	e.sessions = session.New(st, sopts...)
	if p, ok := e.sessions.Restore(); ok {
		e.logger.Debug("restored session projection", "role", p.Role)
	}
	e.client = api.NewClient(cfg.BackendURL, e.sessions,
		api.WithObserver(e.metrics),
		api.WithLogger(e.logger),
	)
	return e, nil
}

// Close releases everything newEnv opened.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// credentials resolves the account to sign in with: flags first, then the
// environment, then the keyring.
func (e *env) credentials(opts *options) (email, password string, err error) {
	email = opts.email
	if email == "" && e.vault != nil {
		if accounts, err := e.vault.Accounts(); err == nil && len(accounts) > 0 {
			email = accounts[0]
		}
	}
	if email == "" {
		return "", "", errors.New("no account: pass --email")
	}

	password = opts.password
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" && e.vault != nil {
		password, err = e.vault.Recall(email)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return "", "", err
		}
	}
	if password == "" {
		return "", "", fmt.Errorf("no password for %s: pass --password, set %s or run login --remember", email, passwordEnv)
	}
	return email, password, nil
}

// authenticate signs in and starts the in-memory session. Every command
// that calls the backend does this first, since tokens are never saved.
func (e *env) authenticate(ctx context.Context, opts *options) (email string, res *api.AuthResult, err error) {
	email, password, err := e.credentials(opts)
	if err != nil {
		return "", nil, err
	}

	scope := e.client.NewScope(ctx)
	defer scope.Close()

	res, err = api.NewAuth(scope).Login(ctx, api.LoginInput{Email: email, Password: password})
	if err != nil {
		return "", nil, fmt.Errorf("signing in as %s: %w", email, err)
	}
	expiry, _ := session.ExpiryFromToken(res.Token)
	e.sessions.Login(res.UserID, res.Token, res.Role, expiry)
	e.logger.Info("signed in", "user", res.UserID, "role", res.Role)
	return email, res, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
