package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/mood"
	"conduit/internal/protocol"
	"conduit/internal/testsupport"
)

func pipeline() []testsupport.ConfigOption {
	return []testsupport.ConfigOption{
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithComponent("sink", config.TypeConsumer, "src"),
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Components: 2")
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("config init overwrote an existing file without --overwrite")
	}
}

func TestStatusShowsConfiguredComponents(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "src")
	requireContains(t, out, "sink")
	requireContains(t, out, "Sleeping")
	requireContains(t, out, "2 sleeping")

	out, err = env.run(t, "status", "src", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var infos []protocol.ComponentInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if len(infos) != 1 || infos[0].Name != "src" || infos[0].Mood != mood.Sleeping {
		t.Fatalf("infos = %+v", infos)
	}

	if _, err := env.run(t, "status", "missing"); err == nil {
		t.Fatal("status of an unknown component succeeded")
	}
}

func TestOrderAndGraph(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	out, err := env.run(t, "order")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got := strings.TrimSpace(out); got != "1. src\n2. sink" {
		t.Fatalf("order output = %q", got)
	}

	out, err = env.run(t, "graph")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	requireContains(t, out, `"src" -> "sink"`)
}

func TestStartWithoutWorkerFails(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	if _, err := env.run(t, "start", "src"); err == nil {
		t.Fatal("start without a worker succeeded")
	}
	if _, err := env.run(t, "stop", "src"); err == nil {
		t.Fatal("stop of a sleeping component succeeded")
	}
}

func TestMoodIsRecordedInHistory(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	if _, err := env.run(t, "mood", "src", "bogus"); err == nil {
		t.Fatal("mood accepted an unknown mood")
	}
	out, err := env.run(t, "mood", "src", "sad")
	if err != nil {
		t.Fatalf("mood: %v", err)
	}
	requireContains(t, out, "src is now sad")

	waitFor(t, 10*time.Second, func() bool {
		out, err := env.run(t, "history", "src")
		return err == nil && strings.Contains(out, "Sad")
	})

	out, err = env.run(t, "status", "src")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Sad")
}

func TestKeycardsListAdminSessions(t *testing.T) {
	env := setupCLITestEnv(t, pipeline()...)

	out, err := env.run(t, "keycards")
	if err != nil {
		t.Fatalf("keycards: %v", err)
	}
	requireContains(t, out, "AUTHENTICATED")

	if _, err := env.run(t, "keycards", "remove", "missing"); err == nil {
		t.Fatal("removing an unknown keycard succeeded")
	}
}

func TestUnreachableManager(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"status"}, "127.0.0.1:1", env.configPath)
	if err == nil {
		t.Fatal("status against a closed port succeeded")
	}
	requireContains(t, err.Error(), "connect to manager")
}

func TestLogsFiltersRoleLog(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(env.cfg.Paths.LogDir, "conduit-worker.log")
	content := "INFO worker: started\nWARN worker: job exited avatar_id=src\nINFO worker: idle\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "worker", "--grep", "warn"}, "", env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != "WARN worker: job exited avatar_id=src" {
		t.Fatalf("logs output = %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "worker", "-n", "1"}, "", env.configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	requireContains(t, out, "idle")
}

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"doctor"}, "", env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "State directory:")
	requireContains(t, out, "[OK]")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, "", env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications are disabled")
}
