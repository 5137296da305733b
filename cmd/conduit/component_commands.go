package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conduit/internal/mood"
	"conduit/internal/protocol"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [component]",
		Short: "Show component moods",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var infos []protocol.ComponentInfo
				if len(args) == 1 {
					var info protocol.ComponentInfo
					if err := client.call(cmd.Context(), protocol.AdminGetComponent, protocol.NameParams{Name: args[0]}, &info); err != nil {
						return err
					}
					infos = append(infos, info)
				} else if err := client.call(cmd.Context(), protocol.AdminGetComponents, nil, &infos); err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, infos)
				}
				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintln(out, "No components")
					return nil
				}
				sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
				fmt.Fprintln(out, renderComponents(infos, shouldColorize(out)))
				fmt.Fprintln(out, strings.Join(moodSummary(infos), ", "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <component>...",
		Short: "Start sleeping components",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				out := cmd.OutOrStdout()
				for _, name := range args {
					var ok bool
					if err := client.call(cmd.Context(), protocol.AdminStartComponent, protocol.NameParams{Name: name}, &ok); err != nil {
						return fmt.Errorf("start %s: %w", name, err)
					}
					fmt.Fprintf(out, "Started %s\n", name)
				}
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <component>...",
		Short: "Stop running components",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				out := cmd.OutOrStdout()
				for _, name := range args {
					var ok bool
					if err := client.call(cmd.Context(), protocol.AdminStopComponent, protocol.NameParams{Name: name}, &ok); err != nil {
						return fmt.Errorf("stop %s: %w", name, err)
					}
					fmt.Fprintf(out, "Stopping %s\n", name)
				}
				return nil
			})
		},
	}
}

func newMoodCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mood <component> <mood>",
		Short: "Set a component's mood",
		Long:  "Set a component's mood. This is the only way to clear a sad component.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mood.Parse(args[1])
			if err != nil {
				return err
			}
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var ok bool
				if err := client.call(cmd.Context(), protocol.AdminSetMood, protocol.SetMoodParams{Name: args[0], Mood: m}, &ok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], m)
				return nil
			})
		},
	}
}

func newCallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "call <component> <method> [json-args]",
		Short: "Invoke a component method",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := protocol.CallComponentParams{Name: args[0], Method: args[1]}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[2])
				}
				params.Args = json.RawMessage(args[2])
			}
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var result json.RawMessage
				if err := client.call(cmd.Context(), protocol.AdminCallComponent, params, &result); err != nil {
					return err
				}
				return writeJSON(cmd, result)
			})
		},
	}
}

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "Show where every feed is served",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var feeds []protocol.FeedInfo
				if err := client.call(cmd.Context(), protocol.AdminGetFeeds, nil, &feeds); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(feeds) == 0 {
					fmt.Fprintln(out, "No feeds")
					return nil
				}
				rows := make([][]string, 0, len(feeds))
				for _, feed := range feeds {
					addr := "-"
					if feed.Ready {
						addr = feed.Host + ":" + strconv.Itoa(feed.Port)
					}
					rows = append(rows, []string{feed.Name, yesNo(feed.Ready), addr, strconv.Itoa(feed.Pending)})
				}
				fmt.Fprintln(out, renderTable(columnsOf("Feed", "Ready", "Address", "Waiting").alignRight("Waiting"), rows))
				return nil
			})
		},
	}
}

func newGraphCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the feed graph in Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var dot string
				if err := client.call(cmd.Context(), protocol.AdminGetGraph, nil, &dot); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), dot)
				return nil
			})
		},
	}
}

func newOrderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the order components start in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd, func(client *adminClient) error {
				var order []string
				if err := client.call(cmd.Context(), protocol.AdminGetStartOrder, nil, &order); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, name := range order {
					fmt.Fprintf(out, "%d. %s\n", i+1, name)
				}
				return nil
			})
		},
	}
}
