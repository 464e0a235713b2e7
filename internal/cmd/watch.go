package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/petropulse/internal/intake"
	"github.com/nhle/petropulse/internal/metrics"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/push"
	"github.com/nhle/petropulse/internal/session"
	"github.com/nhle/petropulse/internal/theme"
)

var errSessionEnded = errors.New("session ended, sign in again")

// pushDialer replaces the Socket.IO dialer when set. Tests use it.
var pushDialer push.Dialer

func newWatchCmd(opts *options) *cobra.Command {
	var (
		metricsAddr string
		count       int
	)

	c := &cobra.Command{
		Use:   "watch",
		Short: "Print pushed notifications as they arrive",
		Long: `Sign in, join the push channels for your user and role, and print each
notification on its own line. Connection state changes go to the log.

Examples:
  petropulse watch
  petropulse watch --metrics-addr :9090
  petropulse watch --count 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if _, _, err := e.authenticate(ctx, opts); err != nil {
				return err
			}

			if metricsAddr != "" {
				stop, err := serveMetrics(metricsAddr, e)
				if err != nil {
					return err
				}
				defer stop()
			}

			strategy, err := intake.ParseIDStrategy(e.cfg.Push.IDStrategy)
			if err != nil {
				return err
			}
			queue := intake.New(intake.WithIDStrategy(strategy))
			defer queue.Close()

			manager := newPushManager(e)
			defer manager.Close()

			events := manager.Subscribe(func(ev model.Event) { queue.Push(ev) })
			defer events.Unsubscribe()
			states := manager.SubscribeState(func(s push.State) {
				e.logger.Info("push state", "state", s)
				if s == push.Disconnected && e.sessions.IsLoggedIn() {
					// The retry budget ran out; nothing more will arrive.
					cancel()
				}
			})
			defer states.Unsubscribe()

			// Expiry or logout clears the identity and ends the command.
			ended := make(chan struct{})
			var endOnce sync.Once
			unsubscribe := e.sessions.Subscribe(func(s session.Session) {
				if s.Token != "" {
					return
				}
				manager.SetIdentity(push.Identity{})
				endOnce.Do(func() { close(ended) })
				cancel()
			})
			defer unsubscribe()

			s := e.sessions.Current()
			manager.SetIdentity(push.Identity{UserID: s.UserID, Role: s.Role})

			out := cmd.OutOrStdout()
			printed := 0
			for count <= 0 || printed < count {
				batch, err := queue.Wait(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, intake.ErrClosed) {
						select {
						case <-ended:
							return errSessionEnded
						default:
						}
						if cmd.Context().Err() == nil && manager.State() == push.Disconnected {
							return errors.New("push connection lost")
						}
						return nil
					}
					return err
				}
				for _, ev := range batch {
					fmt.Fprintln(out, formatEvent(ev))
					printed++
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	c.Flags().IntVar(&count, "count", 0, "exit after this many notifications (0 runs until interrupted)")
	return c
}

func newPushManager(e *env) *push.Manager {
	cfg := push.DefaultConfig(e.cfg.AssetURL)
	if e.cfg.Push.Path != "" {
		cfg.Path = e.cfg.Push.Path
	}
	if len(e.cfg.Push.Transports) > 0 {
		cfg.Transports = e.cfg.Push.Transports
	}
	if e.cfg.Push.ReconnectAttempts > 0 {
		cfg.ReconnectAttempts = e.cfg.Push.ReconnectAttempts
	}
	if d := e.cfg.Push.ReconnectDelay(); d > 0 {
		cfg.ReconnectDelay = d
	}

	popts := []push.Option{push.WithLogger(e.logger), push.WithObserver(e.metrics)}
	if pushDialer != nil {
		popts = append(popts, push.WithDialer(pushDialer))
	}
	return push.NewManager(cfg, popts...)
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, e *env) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(e.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server", "error", err)
		}
	}()
	e.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func formatEvent(ev model.Event) string {
	cat := theme.CategoryFor(ev.Type)
	line := fmt.Sprintf("%s [%s] %s", cat.Icon, cat.Name, ev.Title)
	if ev.Message != "" {
		line += ": " + ev.Message
	}
	return line
}
