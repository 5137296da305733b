package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"conduit/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var grep []string
	cmd := &cobra.Command{
		Use:   "logs [role]",
		Short: "Show a daemon log",
		Long: "Show the log a daemon writes under log_dir. The role is manager (the default), " +
			"worker, or job-<component>.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			role := "manager"
			if len(args) == 1 {
				role = strings.TrimSpace(args[0])
			}
			path := logs.Path(cfg.Paths.LogDir, role)

			out := cmd.OutOrStdout()
			emit := func(line string) {
				if logs.Match(line, grep) {
					fmt.Fprintln(out, line)
				}
			}
			chunk, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range chunk.Lines {
				emit(line)
			}
			if !follow {
				return nil
			}
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(signalCtx, path, chunk.Offset, emit)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().StringArrayVarP(&grep, "grep", "g", nil, "Only show lines containing this text (repeatable)")
	return cmd
}
