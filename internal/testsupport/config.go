package testsupport

import (
	"path/filepath"
	"testing"

	"conduit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized, validated config seeded with unique temp
// directories per test. Listeners bind loopback port 0 and the HTTP surface is
// disabled unless an option enables it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Manager.Listen = "127.0.0.1:0"
	cfgVal.Manager.HTTPBind = ""
	cfgVal.Manager.LoginRate = 0
	cfgVal.Worker.Manager = "127.0.0.1:0"
	cfgVal.Component.HeartbeatInterval = 1
	cfgVal.Component.ReconnectInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test directories: %v", err)
	}
	return builder.cfg
}

// WithComponent appends a component to the pipeline.
func WithComponent(name, typ string, eaters ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Components = append(b.cfg.Components, config.Component{
			Name:   name,
			Type:   typ,
			Eaters: eaters,
		})
	}
}

// WithUser switches the bouncer to challenge-response and adds a user.
func WithUser(username, password string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Bouncer.Type = config.BouncerChallenge
		b.cfg.Bouncer.Users = append(b.cfg.Bouncer.Users, config.User{Username: username, Password: password})
	}
}

// WithWorker sets the worker name and credentials.
func WithWorker(name, username, password string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Name = name
		b.cfg.Worker.Username = username
		b.cfg.Worker.Password = password
	}
}

// WithFeederPorts sets the worker feeder port ranges.
func WithFeederPorts(ranges ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.FeederPorts = ranges
	}
}

// WithHTTP enables the manager HTTP surface on a loopback port.
func WithHTTP() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Manager.HTTPBind = "127.0.0.1:0"
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the temp directory the config was seeded under.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
