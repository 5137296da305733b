package config

import (
	"fmt"
	"strings"

	"conduit/internal/feed"
)

// Normalize applies defaults and canonical forms to a config built in code.
// Load calls it before validating.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeManager()
	c.normalizeBouncer()
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeComponents()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeManager() {
	c.Manager.Listen = strings.TrimSpace(c.Manager.Listen)
	if c.Manager.Listen == "" {
		c.Manager.Listen = defaultManagerListen
	}
	c.Manager.HTTPBind = strings.TrimSpace(c.Manager.HTTPBind)
	if c.Manager.LoginRate <= 0 {
		c.Manager.LoginRate = defaultLoginRate
	}
	if c.Manager.LoginBurst <= 0 {
		c.Manager.LoginBurst = defaultLoginBurst
	}
}

func (c *Config) normalizeBouncer() {
	c.Bouncer.Type = strings.ToLower(strings.TrimSpace(c.Bouncer.Type))
	if c.Bouncer.Type == "" {
		c.Bouncer.Type = defaultBouncerType
	}
	if c.Bouncer.ExpireInterval <= 0 {
		c.Bouncer.ExpireInterval = defaultExpireInterval
	}
	for i := range c.Bouncer.Users {
		c.Bouncer.Users[i].Username = strings.TrimSpace(c.Bouncer.Users[i].Username)
	}
}

func (c *Config) normalizeWorker() error {
	c.Worker.Name = strings.TrimSpace(c.Worker.Name)
	if c.Worker.Name == "" {
		c.Worker.Name = defaultWorkerName
	}
	c.Worker.Manager = strings.TrimSpace(c.Worker.Manager)
	if c.Worker.Manager == "" {
		c.Worker.Manager = c.Manager.Listen
	}
	if strings.TrimSpace(c.Worker.JobBinary) != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Worker.JobBinary))
		if err != nil {
			return fmt.Errorf("worker.job_binary: %w", err)
		}
		c.Worker.JobBinary = expanded
	}
	return nil
}

func (c *Config) normalizeComponents() {
	if c.Component.HeartbeatInterval <= 0 {
		c.Component.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Component.HeartbeatTimeout <= 0 {
		c.Component.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Component.ReconnectInterval <= 0 {
		c.Component.ReconnectInterval = defaultReconnectInterval
	}
	for i := range c.Components {
		comp := &c.Components[i]
		comp.Name = strings.TrimSpace(comp.Name)
		comp.Type = strings.ToLower(strings.TrimSpace(comp.Type))
		comp.Worker = strings.TrimSpace(comp.Worker)
		for j, eater := range comp.Eaters {
			comp.Eaters[j] = feed.Qualify(strings.TrimSpace(eater))
		}
		if len(comp.Feeders) == 0 && comp.Type != TypeConsumer {
			comp.Feeders = []string{feed.DefaultFeed}
		}
		for j, feeder := range comp.Feeders {
			comp.Feeders[j] = strings.TrimSpace(feeder)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
