package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/petropulse/internal/app"
	"github.com/nhle/petropulse/internal/intake"
	appsync "github.com/nhle/petropulse/internal/sync"
)

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI (the default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logFile, err := openLogFile(cfg.Log.File)
	if err != nil {
		return err
	}
	defer logFile.Close()

	e, err := newEnv(opts, logFile)
	if err != nil {
		return err
	}
	defer e.Close()

	strategy, err := intake.ParseIDStrategy(e.cfg.Push.IDStrategy)
	if err != nil {
		return err
	}
	queue := intake.New(intake.WithIDStrategy(strategy))
	defer queue.Close()

	manager := newPushManager(e)
	defer manager.Close()

	bridge := appsync.New(e.sessions, manager, queue, e.logger)
	defer bridge.Stop()

	ctx := cmd.Context()
	model := app.New(ctx, app.Deps{
		Config:   e.cfg,
		Sessions: e.sessions,
		Client:   e.client,
		Push:     manager,
		Bridge:   bridge,
		Cache:    e.store,
		Vault:    e.vault,
		Metrics:  e.metrics,
		Logger:   e.logger,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}
