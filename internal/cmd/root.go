package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nhle/petropulse/internal/model"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	envFile    string
	email      string
	password   string
	logLevel   string
}

// NewRootCmd builds the command tree. Running it without a subcommand
// starts the terminal UI.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "petropulse",
		Short: "Maintenance notifications in your terminal",
		Long: `petropulse signs in to the maintenance backend, keeps a live push
connection for your user and role, and shows incoming notifications as
alerts that dismiss themselves.

Run without a subcommand to open the terminal UI. The other commands are
for scripting against the same backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "config file")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	f.StringVar(&opts.email, "email", "", "account email (defaults to the remembered account)")
	f.StringVar(&opts.password, "password", "", "account password (defaults to $"+passwordEnv+" or the keyring)")
	f.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newTUICmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newNotificationsCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// ExecuteContext runs the command tree with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
