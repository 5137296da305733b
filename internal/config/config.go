package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by every process role.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Manager contains configuration for the manager daemon.
type Manager struct {
	Listen     string  `toml:"listen"`
	HTTPBind   string  `toml:"http_bind"`
	PortBase   int     `toml:"port_base"`
	LoginRate  float64 `toml:"login_rate"`
	LoginBurst int     `toml:"login_burst"`
}

// User is a username/password pair accepted by the manager bouncer.
type User struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Bouncer contains configuration for keycard authentication.
type Bouncer struct {
	Type           string `toml:"type"`
	Enabled        bool   `toml:"enabled"`
	ExpireInterval int    `toml:"expire_interval"`
	KeycardTTL     int    `toml:"keycard_ttl"`
	Users          []User `toml:"users"`
}

// Worker contains configuration for the worker daemon.
type Worker struct {
	Name        string   `toml:"name"`
	Manager     string   `toml:"manager"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	FeederPorts []string `toml:"feeder_ports"`
	JobBinary   string   `toml:"job_binary"`
}

// ComponentTiming contains heartbeat and reconnect timing shared by all components.
type ComponentTiming struct {
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	ReconnectInterval int `toml:"reconnect_interval"`
}

// Component describes one configured pipeline component.
type Component struct {
	Name       string            `toml:"name"`
	Type       string            `toml:"type"`
	Worker     string            `toml:"worker"`
	Eaters     []string          `toml:"eaters"`
	Feeders    []string          `toml:"feeders"`
	Properties map[string]string `toml:"properties"`
}

// Notifications contains configuration for operator alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Recovery       bool   `toml:"recovery"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for Conduit.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Manager: control listener, HTTP bind, feed port base, login throttle
//   - Bouncer: keycard authentication policy and users
//   - Worker: worker identity, manager address and feeder port pool
//   - Component: heartbeat and reconnect timing
//   - Components: the pipeline itself
//   - Notifications: ntfy alerts for sad and lost components
//   - Logging: log format and levels
type Config struct {
	Paths         Paths           `toml:"paths"`
	Manager       Manager         `toml:"manager"`
	Bouncer       Bouncer         `toml:"bouncer"`
	Worker        Worker          `toml:"worker"`
	Component     ComponentTiming `toml:"component"`
	Components    []Component     `toml:"components"`
	Notifications Notifications   `toml:"notifications"`
	Logging       Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conduit/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conduit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ComponentsForWorker returns the configured components a worker should run, in
// configuration order. Components without a worker run on any worker.
func (c *Config) ComponentsForWorker(worker string) []Component {
	var out []Component
	for _, comp := range c.Components {
		if comp.Worker == "" || comp.Worker == worker {
			out = append(out, comp)
		}
	}
	return out
}

// FindComponent returns the configured component with the given name.
func (c *Config) FindComponent(name string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, true
		}
	}
	return Component{}, false
}

// ComponentOrder returns component names in configuration order. It is used as
// the preferred order when sorting the component graph.
func (c *Config) ComponentOrder() []string {
	names := make([]string, 0, len(c.Components))
	for _, comp := range c.Components {
		names = append(names, comp.Name)
	}
	return names
}

// SocketPath returns the job heaven socket for the named worker.
func (c *Config) SocketPath(worker string) string {
	return filepath.Join(c.Paths.StateDir, fmt.Sprintf("worker-%s.sock", worker))
}

// DatabasePath returns the manager history database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "manager.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
