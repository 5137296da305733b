package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"conduit/internal/dag"
	"conduit/internal/feed"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateManager(); err != nil {
		return err
	}
	if err := c.validateBouncer(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateComponents(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateManager() error {
	if _, _, err := net.SplitHostPort(c.Manager.Listen); err != nil {
		return fmt.Errorf("manager.listen must be host:port: %w", err)
	}
	if c.Manager.HTTPBind != "" {
		if _, _, err := net.SplitHostPort(c.Manager.HTTPBind); err != nil {
			return fmt.Errorf("manager.http_bind must be host:port: %w", err)
		}
	}
	if c.Manager.PortBase <= 0 || c.Manager.PortBase > 65535 {
		return errors.New("manager.port_base must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateBouncer() error {
	switch c.Bouncer.Type {
	case BouncerTrivial:
	case BouncerChallenge:
		if c.Bouncer.Enabled && len(c.Bouncer.Users) == 0 {
			return errors.New("bouncer.users must list at least one user when bouncer.type is challenge")
		}
	default:
		return fmt.Errorf("bouncer.type must be %q or %q", BouncerTrivial, BouncerChallenge)
	}
	if c.Bouncer.KeycardTTL < 0 {
		return errors.New("bouncer.keycard_ttl must be zero or positive")
	}
	seen := make(map[string]struct{}, len(c.Bouncer.Users))
	for _, user := range c.Bouncer.Users {
		if user.Username == "" {
			return errors.New("bouncer.users entries must set username")
		}
		if _, dup := seen[user.Username]; dup {
			return fmt.Errorf("bouncer.users lists %q twice", user.Username)
		}
		seen[user.Username] = struct{}{}
	}
	return nil
}

func (c *Config) validateWorker() error {
	if strings.ContainsAny(c.Worker.Name, ":/ ") {
		return errors.New("worker.name must not contain ':', '/' or spaces")
	}
	if _, _, err := net.SplitHostPort(c.Worker.Manager); err != nil {
		return fmt.Errorf("worker.manager must be host:port: %w", err)
	}
	if _, err := c.Worker.Ports(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTiming() error {
	if c.Component.HeartbeatTimeout <= c.Component.HeartbeatInterval {
		return errors.New("component.heartbeat_timeout must be greater than component.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateComponents() error {
	feeds := make(map[string]struct{})
	graph := dag.New[string]()
	for _, comp := range c.Components {
		if comp.Name == "" {
			return errors.New("components entries must set name")
		}
		if strings.Contains(comp.Name, ":") {
			return fmt.Errorf("components.%s: name must not contain ':'", comp.Name)
		}
		switch comp.Type {
		case TypeProducer, TypeConverter, TypeConsumer:
		default:
			return fmt.Errorf("components.%s: type must be producer, converter or consumer", comp.Name)
		}
		if comp.Type == TypeProducer && len(comp.Eaters) > 0 {
			return fmt.Errorf("components.%s: producers do not take eaters", comp.Name)
		}
		if comp.Type != TypeProducer && len(comp.Eaters) == 0 {
			return fmt.Errorf("components.%s: %s needs at least one eater", comp.Name, comp.Type)
		}
		if err := graph.AddNode(comp.Name, comp.Type); err != nil {
			return fmt.Errorf("components.%s: %w", comp.Name, err)
		}
		for _, feeder := range comp.Feeders {
			feeds[comp.Name+":"+feeder] = struct{}{}
		}
	}
	for _, comp := range c.Components {
		for _, eater := range comp.Eaters {
			if _, ok := feeds[eater]; !ok {
				return fmt.Errorf("components.%s: eater %q does not name a configured feed", comp.Name, eater)
			}
			owner := feed.Component(eater)
			if owner == comp.Name {
				return fmt.Errorf("components.%s: component cannot eat its own feed", comp.Name)
			}
			if graph.HasEdge(owner, comp.Name) {
				continue
			}
			if err := graph.AddEdge(owner, comp.Name); err != nil {
				return fmt.Errorf("components.%s: %w", comp.Name, err)
			}
		}
	}
	if _, err := graph.Sort(); err != nil {
		return fmt.Errorf("components: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	return nil
}

// Ports expands the configured feeder port list. Entries are single ports
// ("8600") or inclusive ranges ("8600-8619").
func (w Worker) Ports() ([]int, error) {
	var ports []int
	seen := make(map[int]struct{})
	add := func(port int) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("worker.feeder_ports: %d out of range", port)
		}
		if _, dup := seen[port]; dup {
			return fmt.Errorf("worker.feeder_ports: %d listed twice", port)
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
		return nil
	}
	for _, entry := range w.FeederPorts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		low, high, isRange := strings.Cut(entry, "-")
		first, err := strconv.Atoi(strings.TrimSpace(low))
		if err != nil {
			return nil, fmt.Errorf("worker.feeder_ports: invalid entry %q", entry)
		}
		if !isRange {
			if err := add(first); err != nil {
				return nil, err
			}
			continue
		}
		last, err := strconv.Atoi(strings.TrimSpace(high))
		if err != nil || last < first {
			return nil, fmt.Errorf("worker.feeder_ports: invalid range %q", entry)
		}
		for port := first; port <= last; port++ {
			if err := add(port); err != nil {
				return nil, err
			}
		}
	}
	return ports, nil
}
