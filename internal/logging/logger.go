package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"conduit/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
	// ComponentLevels maps component names to a minimum level that replaces Level
	// for loggers created with NewComponentLogger.
	ComponentLevels map[string]string
	// RunID, when set, is attached to every record.
	RunID string
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	overrides, floor := componentLevels(opts.ComponentLevels, level)
	threshold := new(slog.LevelVar)
	threshold.Set(floor)

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errorOutputs := opts.ErrorOutputPaths
	if len(errorOutputs) == 0 {
		errorOutputs = []string{"stderr"}
	}
	w, err := openSinks(slices.Concat(outputs, errorOutputs))
	if err != nil {
		return nil, err
	}

	withSource := opts.Development || level <= slog.LevelDebug
	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       threshold,
			AddSource:   withSource,
			ReplaceAttr: shortJSONKeys,
		})
	case "console", "":
		handler = newConsoleHandler(w, threshold, withSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	handler = newComponentLevelHandler(handler, level, overrides)
	handler = newRunIDHandler(handler, opts.RunID)
	return slog.New(handler), nil
}

// NewFromConfig creates the logger of one process role (manager, worker,
// job-<avatar>). Records go to stdout and to <log_dir>/conduit-<role>.log.
func NewFromConfig(cfg *config.Config, role, runID string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console", RunID: runID})
	}
	opts := Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		ComponentLevels:  cfg.Logging.ComponentLevels,
		RunID:            runID,
	}
	if dir := cfg.Paths.LogDir; dir != "" {
		file := filepath.Join(dir, RoleFile(role))
		opts.OutputPaths = append(opts.OutputPaths, file)
		opts.ErrorOutputPaths = append(opts.ErrorOutputPaths, file)
	}
	return New(opts)
}

// RoleFile is the log file name of a process role.
func RoleFile(role string) string {
	if role = strings.TrimSpace(role); role != "" {
		return "conduit-" + role + ".log"
	}
	return "conduit.log"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// componentLevels parses per-component levels. floor is the most verbose
// level any logger needs, which the output handler must let through.
func componentLevels(raw map[string]string, base slog.Level) (map[string]slog.Level, slog.Level) {
	floor := base
	overrides := make(map[string]slog.Level, len(raw))
	for name, value := range raw {
		parsed := parseLevel(value)
		overrides[strings.TrimSpace(name)] = parsed
		floor = min(floor, parsed)
	}
	return overrides, floor
}

// openSinks resolves stdout, stderr and file paths into one writer. Each
// destination is written once even when listed for both outputs.
func openSinks(paths []string) (io.Writer, error) {
	var writers []io.Writer
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

// shortJSONKeys renames the built-in keys to ts, level and msg, prints times
// in UTC and trims sources to file:line.
func shortJSONKeys(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
		}
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}
