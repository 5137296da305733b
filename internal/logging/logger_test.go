package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesRoleFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "manager", "run-1")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("manager ready")

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, "conduit-manager.log"))
	if !strings.Contains(content, "manager ready") {
		t.Fatalf("expected message in role log, got %q", content)
	}
	if !strings.Contains(content, "run_id=run-1") {
		t.Fatalf("expected run id attribute, got %q", content)
	}
}

func TestConsoleLoggerPrefixesComponentAndAvatar(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithAvatarID(context.Background(), "producer-video")
	log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "component-heaven"))
	log.Info("registered", logging.Int("eaters", 0))

	content := readLog(t, logPath)
	if !strings.Contains(content, "component-heaven[producer-video]: registered") {
		t.Fatalf("expected component and avatar prefix, got %q", content)
	}
	if !strings.Contains(content, "eaters=0") {
		t.Fatalf("expected attribute, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:           "json",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("keycard expired", logging.String(logging.FieldKeycardID, "20260101000000-1"))

	var record map[string]any
	line := strings.TrimSpace(readLog(t, logPath))
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("decode json line %q: %v", line, err)
	}
	if record["level"] != "warn" || record["msg"] != "keycard expired" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %#v", record)
	}
	if record[logging.FieldKeycardID] != "20260101000000-1" {
		t.Fatalf("expected keycard id, got %#v", record)
	}
}

func TestComponentLevelOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "override.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
		ComponentLevels:  map[string]string{"feed-tracker": "debug", "bouncer": "error"},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "feed-tracker").Debug("feed pending")
	logging.NewComponentLogger(logger, "bouncer").Warn("keycard refused")
	logging.NewComponentLogger(logger, "dispatcher").Debug("avatar requested")
	logging.NewComponentLogger(logger, "dispatcher").Info("avatar attached")

	content := readLog(t, logPath)
	if !strings.Contains(content, "feed pending") {
		t.Fatalf("expected debug record for overridden component, got %q", content)
	}
	if strings.Contains(content, "keycard refused") {
		t.Fatalf("expected bouncer warning to be suppressed, got %q", content)
	}
	if strings.Contains(content, "avatar requested") {
		t.Fatalf("expected debug record to follow global level, got %q", content)
	}
	if !strings.Contains(content, "avatar attached") {
		t.Fatalf("expected info record, got %q", content)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "mind gone", "dead_reference", logging.String(logging.FieldImpact, "component marked lost"))

	content := readLog(t, logPath)
	for _, want := range []string{"event_type=dead_reference", "error_hint=", `impact="component marked lost"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in %q", want, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
