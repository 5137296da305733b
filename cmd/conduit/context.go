package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/ipc"
)

// adminCallTimeout bounds a single admin request.
const adminCallTimeout = 30 * time.Second

type globalFlags struct {
	config   string
	manager  string
	username string
	password string
}

type commandContext struct {
	flags *globalFlags

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.flags.config)
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// jobConfigPath is the config file jobs should load, empty when defaults
// were used.
func (c *commandContext) jobConfigPath() string {
	if !c.configExists {
		return ""
	}
	return c.configPath
}

func (c *commandContext) managerAddress() (string, error) {
	if addr := strings.TrimSpace(c.flags.manager); addr != "" {
		return addr, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Manager.Listen, nil
}

// credentials returns the flag credentials, falling back to the worker's.
func (c *commandContext) credentials() (string, string) {
	username, password := c.flags.username, c.flags.password
	if username == "" {
		if cfg, err := c.ensureConfig(); err == nil {
			username, password = cfg.Worker.Username, cfg.Worker.Password
		}
	}
	return username, password
}

// dialAdmin logs in to the manager with the admin interface. handlers serve
// the manager's pushes and may be nil.
func (c *commandContext) dialAdmin(ctx context.Context, handlers ipc.Handlers) (*ipc.Medium, error) {
	addr, err := c.managerAddress()
	if err != nil {
		return nil, err
	}
	username, password := c.credentials()
	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   addr,
		Interface: ipc.InterfaceAdmin,
		AvatarID:  fmt.Sprintf("cli-%d", os.Getpid()),
		Username:  username,
		Password:  password,
		Handlers:  handlers,
	})
	if err != nil {
		return nil, err
	}
	if err := medium.Login(ctx); err != nil {
		_ = medium.Close()
		return nil, wrapDialError(err, addr)
	}
	return medium, nil
}

// withAdmin runs fn against a logged in admin session.
func (c *commandContext) withAdmin(cmd *cobra.Command, fn func(*adminClient) error) error {
	medium, err := c.dialAdmin(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer medium.Close()
	return fn(&adminClient{medium: medium})
}

// adminClient issues admin calls with a per-call timeout.
type adminClient struct {
	medium *ipc.Medium
}

func (a *adminClient) call(ctx context.Context, method string, params, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, adminCallTimeout)
	defer cancel()
	return a.medium.CallRemote(ctx, method, params, reply)
}

func wrapDialError(err error, addr string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to manager: %s refused the connection; start it with `conduit manager`", addr)
	case errors.Is(err, ipc.ErrUnauthorized):
		return fmt.Errorf("connect to manager: %s rejected the credentials; pass --username and --password", addr)
	default:
		return fmt.Errorf("connect to manager: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
