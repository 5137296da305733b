package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"conduit/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "conduit")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Manager.Listen != "127.0.0.1:8642" {
		t.Fatalf("unexpected listen: %q", cfg.Manager.Listen)
	}
	if cfg.Worker.Manager != cfg.Manager.Listen {
		t.Fatalf("worker manager should default to listen address, got %q", cfg.Worker.Manager)
	}
	if cfg.Bouncer.Type != config.BouncerTrivial {
		t.Fatalf("unexpected bouncer type: %q", cfg.Bouncer.Type)
	}
	if cfg.SocketPath("localhost") != filepath.Join(wantState, "worker-localhost.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath("localhost"))
	}
}

func TestLoadCustomPathQualifiesEaters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.toml")
	content := `
[paths]
state_dir = "` + filepath.Join(dir, "state") + `"

[worker]
feeder_ports = ["9000", "9010-9012"]

[[components]]
name = "source"
type = "producer"

[[components]]
name = "sink"
type = "consumer"
eaters = [" source "]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	source, ok := cfg.FindComponent("source")
	if !ok {
		t.Fatal("expected source component")
	}
	if !reflect.DeepEqual(source.Feeders, []string{"default"}) {
		t.Fatalf("expected default feeder, got %v", source.Feeders)
	}
	sink, _ := cfg.FindComponent("sink")
	if !reflect.DeepEqual(sink.Eaters, []string{"source:default"}) {
		t.Fatalf("expected qualified eater, got %v", sink.Eaters)
	}
	if len(sink.Feeders) != 0 {
		t.Fatalf("consumers should not get a default feeder, got %v", sink.Feeders)
	}
	ports, err := cfg.Worker.Ports()
	if err != nil {
		t.Fatalf("Ports returned error: %v", err)
	}
	if !reflect.DeepEqual(ports, []int{9000, 9010, 9011, 9012}) {
		t.Fatalf("unexpected ports: %v", ports)
	}
	if got := cfg.ComponentOrder(); !reflect.DeepEqual(got, []string{"source", "sink"}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestComponentsForWorker(t *testing.T) {
	cfg := config.Default()
	cfg.Components = []config.Component{
		{Name: "a", Type: config.TypeProducer, Worker: "w1"},
		{Name: "b", Type: config.TypeProducer},
		{Name: "c", Type: config.TypeProducer, Worker: "w2"},
	}
	var names []string
	for _, comp := range cfg.ComponentsForWorker("w1") {
		names = append(names, comp.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("unexpected components for w1: %v", names)
	}
}

func TestCreateSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if len(parsed.Components) != 3 {
		t.Fatalf("expected 3 sample components, got %d", len(parsed.Components))
	}

	t.Setenv("HOME", dir)
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "bad listen",
			mutate:  func(c *config.Config) { c.Manager.Listen = "nowhere" },
			wantErr: "manager.listen",
		},
		{
			name:    "bad bouncer type",
			mutate:  func(c *config.Config) { c.Bouncer.Type = "htpasswd" },
			wantErr: "bouncer.type",
		},
		{
			name: "challenge without users",
			mutate: func(c *config.Config) {
				c.Bouncer.Type = config.BouncerChallenge
			},
			wantErr: "bouncer.users",
		},
		{
			name:    "bad port range",
			mutate:  func(c *config.Config) { c.Worker.FeederPorts = []string{"9010-9000"} },
			wantErr: "worker.feeder_ports",
		},
		{
			name: "unknown eater",
			mutate: func(c *config.Config) {
				c.Components = []config.Component{
					{Name: "sink", Type: config.TypeConsumer, Eaters: []string{"ghost:default"}},
				}
			},
			wantErr: "does not name a configured feed",
		},
		{
			name: "cycle",
			mutate: func(c *config.Config) {
				c.Components = []config.Component{
					{Name: "a", Type: config.TypeConverter, Eaters: []string{"b:default"}, Feeders: []string{"default"}},
					{Name: "b", Type: config.TypeConverter, Eaters: []string{"a:default"}, Feeders: []string{"default"}},
				}
			},
			wantErr: "cycle",
		},
		{
			name: "unknown type",
			mutate: func(c *config.Config) {
				c.Components = []config.Component{{Name: "x", Type: "mixer"}}
			},
			wantErr: "type must be",
		},
		{
			name:    "timeout shorter than interval",
			mutate:  func(c *config.Config) { c.Component.HeartbeatTimeout = 1 },
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "ntfy topic without scheme",
			mutate:  func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/conduit" },
			wantErr: "notifications.ntfy_topic",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
