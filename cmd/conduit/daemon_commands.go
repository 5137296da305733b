package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conduit/internal/daemonrun"
)

type daemonFlags struct {
	logLevel    string
	development bool
}

func (f *daemonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&f.development, "dev", false, "Log at debug level")
}

func (f *daemonFlags) options(ctx *commandContext) daemonrun.Options {
	return daemonrun.Options{
		ConfigPath:  ctx.jobConfigPath(),
		LogLevel:    f.logLevel,
		Development: f.development,
	}
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newManagerCommand(ctx),
		newWorkerCommand(ctx),
		newJobCommand(ctx),
	}
}

func newManagerCommand(ctx *commandContext) *cobra.Command {
	var flags daemonFlags
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run the manager in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr := strings.TrimSpace(ctx.flags.manager); addr != "" {
				cfg.Manager.Listen = addr
			}
			return daemonrun.RunManager(cmd.Context(), cfg, flags.options(ctx))
		},
	}
	flags.register(cmd)
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var flags daemonFlags
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if name = strings.TrimSpace(name); name != "" {
				cfg.Worker.Name = name
			}
			if addr := strings.TrimSpace(ctx.flags.manager); addr != "" {
				cfg.Worker.Manager = addr
			}
			if ctx.flags.username != "" {
				cfg.Worker.Username = ctx.flags.username
				cfg.Worker.Password = ctx.flags.password
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, flags.options(ctx))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Override worker.name")
	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	var flags daemonFlags
	var socket, avatarID string
	cmd := &cobra.Command{
		Use:    "job",
		Short:  "Run one component for a worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socket == "" || avatarID == "" {
				return fmt.Errorf("--socket and --avatar-id are required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.RunJob(cmd.Context(), cfg, socket, avatarID, flags.options(ctx))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&socket, "socket", "", "Worker job socket")
	cmd.Flags().StringVar(&avatarID, "avatar-id", "", "Component this job runs")
	return cmd
}
