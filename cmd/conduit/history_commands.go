package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conduit/internal/protocol"
	"conduit/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [component]",
		Short: "Show recorded mood changes",
		Long:  "Without a component, show the last recorded mood of every component.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := protocol.HistoryParams{Limit: limit, Latest: true}
			if len(args) == 1 {
				params = protocol.HistoryParams{Component: args[0], Limit: limit}
			}
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var records []store.MoodRecord
				if err := client.call(cmd.Context(), protocol.AdminGetHistory, params, &records); err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No history")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						formatTime(rec.RecordedAt),
						rec.Component,
						rec.Worker,
						renderMood(rec.Mood, colorize),
						rec.Message,
					})
				}
				fmt.Fprintln(out, renderTable(columnsOf("Time", "Component", "Worker", "Mood", "Message"), rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows for a single component")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
