package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *options) *cobra.Command {
	var remember bool

	c := &cobra.Command{
		Use:   "login",
		Short: "Check credentials against the backend",
		Long: `Sign in once to check the account. With --remember the password is
stored in the OS keyring so later commands and the UI can sign in without
asking.

Examples:
  petropulse login --email tech@plant.io --password secret --remember
  PETROPULSE_PASSWORD=secret petropulse login --email tech@plant.io`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			email, res, err := e.authenticate(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if remember {
				if e.vault == nil {
					return errors.New("no keyring available to remember the password")
				}
				_, password, err := e.credentials(opts)
				if err != nil {
					return err
				}
				if err := e.vault.Remember(email, password); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", email, res.Role)
			return nil
		},
	}
	c.Flags().BoolVar(&remember, "remember", false, "store the password in the OS keyring")
	return c
}

func newLogoutCmd(opts *options) *cobra.Command {
	var forget bool

	c := &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved session and, with --forget, the remembered password",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			e.sessions.Logout()

			if forget && e.vault != nil {
				email := opts.email
				if email == "" {
					accounts, err := e.vault.Accounts()
					if err != nil {
						return err
					}
					if len(accounts) > 0 {
						email = accounts[0]
					}
				}
				if email != "" {
					if err := e.vault.Forget(email); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Forgot password for %s\n", email)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
	c.Flags().BoolVar(&forget, "forget", false, "also remove the remembered password")
	return c
}
