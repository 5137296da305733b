package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"conduit/internal/ipc"
	"conduit/internal/mood"
	"conduit/internal/protocol"
)

// eventPrinter writes manager pushes as single lines. Pushes arrive on
// concurrent handler goroutines.
type eventPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
}

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *eventPrinter) stateChanged(_ context.Context, ev protocol.StateEvent) (bool, error) {
	value := fmt.Sprint(ev.Value)
	if ev.Key == "mood" {
		if m, err := moodValue(ev.Value); err == nil {
			value = renderMood(m, p.colorize)
		}
	}
	p.printf("%s %-12s %s %s=%s\n", formatTime(ev.Time), ev.Component, ev.Kind, ev.Key, value)
	return true, nil
}

func (p *eventPrinter) componentAdded(_ context.Context, info protocol.ComponentInfo) (bool, error) {
	p.printf("%-19s %-12s added on %s\n", "", info.Name, info.Worker)
	return true, nil
}

func (p *eventPrinter) componentRemoved(_ context.Context, info protocol.ComponentInfo) (bool, error) {
	p.printf("%-19s %-12s removed\n", "", info.Name)
	return true, nil
}

func (p *eventPrinter) handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.AdminStateChanged:     ipc.Bind(p.stateChanged),
		protocol.AdminComponentAdded:   ipc.Bind(p.componentAdded),
		protocol.AdminComponentRemoved: ipc.Bind(p.componentRemoved),
	}
}

// moodValue decodes a mood carried in an untyped event value.
func moodValue(v any) (mood.Mood, error) {
	switch value := v.(type) {
	case string:
		return mood.Parse(value)
	case float64:
		m := mood.Mood(int(value))
		if !m.Valid() {
			return 0, fmt.Errorf("invalid mood %v", value)
		}
		return m, nil
	default:
		return 0, fmt.Errorf("unexpected mood value %T", v)
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow component state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			printer := &eventPrinter{out: out, colorize: shouldColorize(out)}
			medium, err := ctx.dialAdmin(signalCtx, printer.handlers())
			if err != nil {
				return err
			}
			defer medium.Close()

			client := &adminClient{medium: medium}
			var infos []protocol.ComponentInfo
			if err := client.call(signalCtx, protocol.AdminGetComponents, nil, &infos); err != nil {
				return err
			}
			for _, info := range infos {
				printer.printf("%-19s %-12s %s\n", "", info.Name, renderMood(info.Mood, printer.colorize))
			}

			select {
			case <-signalCtx.Done():
				return nil
			case <-medium.Done():
				return fmt.Errorf("manager connection lost")
			}
		},
	}
}
