package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conduit/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var overwrite bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration with a three component pipeline",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(path)
			if err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check config path: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Describe your pipeline in its [[components]] tables, then run `conduit config validate`.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Where to write the file (defaults to ~/.config/conduit/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(path string) (string, error) {
	if path = strings.TrimSpace(path); path == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and check the component graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			if ctx.configExists {
				fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			} else {
				fmt.Fprintf(out, "Config path: %s (missing, defaults used)\n", ctx.configPath)
			}
			fmt.Fprintf(out, "Manager: %s\n", cfg.Manager.Listen)
			bouncer := "disabled"
			if cfg.Bouncer.Enabled {
				bouncer = fmt.Sprintf("%s, %d users", cfg.Bouncer.Type, len(cfg.Bouncer.Users))
			}
			fmt.Fprintf(out, "Bouncer: %s\n", bouncer)
			fmt.Fprintf(out, "Components: %d\n", len(cfg.Components))
			for _, comp := range cfg.Components {
				worker := comp.Worker
				if worker == "" {
					worker = "any worker"
				}
				fmt.Fprintf(out, "  %s (%s on %s)\n", comp.Name, comp.Type, worker)
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
