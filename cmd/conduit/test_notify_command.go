package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conduit/internal/mood"
	"conduit/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test alert to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc := notifications.NewService(cfg.Notifications, nil)
			out := cmd.OutOrStdout()
			if !svc.Enabled() {
				fmt.Fprintln(out, "Notifications are disabled; set notifications.ntfy_topic")
				return nil
			}
			err = svc.Deliver(cmd.Context(), notifications.Alert{
				Component: "test",
				Mood:      mood.Sad,
				Previous:  mood.Happy,
				Message:   "conduit test-notify",
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
