package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/petropulse/internal/model"
)

func newConfigCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}
	c.AddCommand(newConfigInitCmd(opts), newConfigShowCmd(opts))
	return c
}

func newConfigInitCmd(opts *options) *cobra.Command {
	var (
		backendURL string
		assetURL   string
		force      bool
	)

	c := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Long: `Write the config file with every key at its default value.

Examples:
  petropulse config init --backend-url http://localhost:5000/api --asset-url http://localhost:5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", opts.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if backendURL != "" {
				cfg.BackendURL = backendURL
			}
			if assetURL != "" {
				cfg.AssetURL = assetURL
			}
			if err := model.SaveConfig(opts.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
			return nil
		},
	}
	c.Flags().StringVar(&backendURL, "backend-url", "", "REST API base URL")
	c.Flags().StringVar(&assetURL, "asset-url", "", "push server origin")
	c.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return c
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend_url:              %s\n", cfg.BackendURL)
			fmt.Fprintf(out, "asset_url:                %s\n", cfg.AssetURL)
			fmt.Fprintf(out, "push.path:                %s\n", cfg.Push.Path)
			fmt.Fprintf(out, "push.transports:          %v\n", cfg.Push.Transports)
			fmt.Fprintf(out, "push.reconnect_attempts:  %d\n", cfg.Push.ReconnectAttempts)
			fmt.Fprintf(out, "push.reconnect_delay_ms:  %d\n", cfg.Push.ReconnectDelayMS)
			fmt.Fprintf(out, "push.id_strategy:         %s\n", cfg.Push.IDStrategy)
			fmt.Fprintf(out, "display.theme:            %s\n", cfg.Display.Theme)
			fmt.Fprintf(out, "display.toast_duration_ms: %d\n", cfg.Display.ToastDurationMS)
			fmt.Fprintf(out, "log.level:                %s\n", cfg.Log.Level)
			fmt.Fprintf(out, "log.file:                 %s\n", cfg.Log.File)
			fmt.Fprintf(out, "store.path:               %s\n", cfg.Store.Path)
			return nil
		},
	}
}
