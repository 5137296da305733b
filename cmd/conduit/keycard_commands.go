package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conduit/internal/bouncer"
	"conduit/internal/protocol"
	"conduit/internal/store"
)

func newKeycardsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keycards",
		Short: "List keycards issued by the manager bouncer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var keycards []bouncer.Keycard
				if err := client.call(cmd.Context(), protocol.AdminGetKeycards, nil, &keycards); err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, keycards)
				}
				out := cmd.OutOrStdout()
				if len(keycards) == 0 {
					fmt.Fprintln(out, "No keycards")
					return nil
				}
				fmt.Fprintln(out, renderKeycards(keycards))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.AddCommand(newKeycardActionCommand(ctx, "remove", "Remove a keycard", protocol.AdminRemoveKeycard, "Removed"))
	cmd.AddCommand(newKeycardActionCommand(ctx, "expire", "Expire a keycard and close its session", protocol.AdminExpireKeycard, "Expired"))
	cmd.AddCommand(newKeycardAuditCommand(ctx))
	return cmd
}

func renderKeycards(keycards []bouncer.Keycard) string {
	rows := make([][]string, 0, len(keycards))
	for _, kc := range keycards {
		ttl := "-"
		if kc.TTL != nil {
			ttl = strconv.FormatFloat(*kc.TTL, 'f', 0, 64) + "s"
		}
		rows = append(rows, []string{kc.ID, string(kc.Type), string(kc.State), kc.Username, kc.AvatarID, kc.Address, ttl})
	}
	return renderTable(columnsOf("ID", "Type", "State", "User", "Avatar", "Address", "TTL").alignRight("TTL"), rows)
}

func newKeycardActionCommand(ctx *commandContext, use, short, method, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var ok bool
				if err := client.call(cmd.Context(), method, protocol.KeycardParams{ID: args[0]}, &ok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s keycard %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newKeycardAuditCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent bouncer decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var records []store.KeycardRecord
				if err := client.call(cmd.Context(), protocol.AdminGetAudit, protocol.HistoryParams{Limit: limit}, &records); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No keycard decisions recorded")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						formatTime(rec.RecordedAt),
						rec.Action,
						rec.KeycardID,
						string(rec.State),
						rec.Username,
						rec.AvatarID,
						rec.Address,
					})
				}
				fmt.Fprintln(out, renderTable(columnsOf("Time", "Action", "Keycard", "State", "User", "Avatar", "Address"), rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows")
	return cmd
}
