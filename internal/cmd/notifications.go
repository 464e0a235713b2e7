package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/model"
	"github.com/nhle/petropulse/internal/theme"
)

func newNotificationsCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "List and manage durable notifications",
	}
	c.AddCommand(
		newNotificationsListCmd(opts),
		newNotificationsLatestCmd(opts),
		newNotificationsShowCmd(opts),
		newNotificationsReadCmd(opts),
		newNotificationsDeleteCmd(opts),
	)
	return c
}

// withNotifications signs in and runs fn against the notification service.
func withNotifications(cmd *cobra.Command, opts *options, fn func(ctx context.Context, e *env, svc *api.Notifications) error) error {
	e, err := newEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if _, _, err := e.authenticate(ctx, opts); err != nil {
		return err
	}
	scope := e.client.NewScope(ctx)
	defer scope.Close()
	return fn(ctx, e, api.NewNotifications(scope))
}

func newNotificationsListCmd(opts *options) *cobra.Command {
	var (
		page   int
		size   int
		unread bool
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd, opts, func(ctx context.Context, e *env, svc *api.Notifications) error {
				items, err := svc.List(ctx)
				if err != nil {
					return err
				}
				if err := e.store.ReplaceNotifications(ctx, items); err != nil {
					e.logger.Warn("caching notifications", "error", err)
				}

				if unread {
					items = unreadOnly(items)
				}
				shown, pages := api.Page(items, page, size)
				out := cmd.OutOrStdout()
				if len(shown) == 0 {
					fmt.Fprintln(out, "No notifications")
					return nil
				}
				renderTable(out, shown)
				fmt.Fprintf(out, "Page %d/%d, %d total\n", min(max(page, 1), pages), pages, len(items))
				return nil
			})
		},
	}
	c.Flags().IntVar(&page, "page", 1, "page to show (1-based)")
	c.Flags().IntVar(&size, "size", 10, "notifications per page")
	c.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	return c
}

func newNotificationsLatestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the four most recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd, opts, func(ctx context.Context, _ *env, svc *api.Notifications) error {
				items, err := svc.LastFour(ctx)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No notifications")
					return nil
				}
				renderTable(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
}

func newNotificationsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one notification and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd, opts, func(ctx context.Context, e *env, svc *api.Notifications) error {
				n, err := svc.Open(ctx, args[0])
				if err != nil {
					return err
				}
				if err := e.store.UpsertNotification(ctx, *n); err != nil {
					e.logger.Warn("caching notification", "id", n.ID, "error", err)
				}
				renderDetail(cmd.OutOrStdout(), *n)
				return nil
			})
		},
	}
}

func newNotificationsReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>...",
		Short: "Mark notifications as read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd, opts, func(ctx context.Context, e *env, svc *api.Notifications) error {
				for _, id := range args {
					if err := svc.MarkRead(ctx, id); err != nil {
						return fmt.Errorf("marking %s read: %w", id, err)
					}
					if err := e.store.MarkNotificationRead(ctx, id); err != nil {
						e.logger.Debug("updating cache", "id", id, "error", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Marked %s read\n", id)
				}
				return nil
			})
		},
	}
}

func newNotificationsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd, opts, func(ctx context.Context, e *env, svc *api.Notifications) error {
				id := args[0]
				if err := svc.Delete(ctx, id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				if err := e.store.DeleteNotification(ctx, id); err != nil {
					e.logger.Debug("updating cache", "id", id, "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				return nil
			})
		},
	}
}

func unreadOnly(items []model.Notification) []model.Notification {
	var out []model.Notification
	for _, n := range items {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

func renderTable(w io.Writer, items []model.Notification) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "ID", "TYPE", "TITLE", "CREATED")
	for _, n := range items {
		mark := " "
		if !n.Read {
			mark = "•"
		}
		t.Row(mark, n.ID, theme.CategoryFor(n.Type).Name, n.Title, formatTime(n.CreatedAt))
	}
	fmt.Fprintln(w, t.String())
}

func renderDetail(w io.Writer, n model.Notification) {
	cat := theme.CategoryFor(n.Type)
	title := theme.CategoryStyle(n.Type).Render(cat.Icon + " " + n.Title)
	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "id:      %s\ntype:    %s\ncreated: %s\n\n%s\n", n.ID, cat.Name, formatTime(n.CreatedAt), n.Message)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
