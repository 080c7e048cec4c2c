package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultConfigPath is the path to the canonical relay defaults file.
const DefaultConfigPath = "config/relay.defaults.json"

// Defaults used when a field is omitted from the JSON file.
const (
	DefaultUDPHost           = "0.0.0.0"
	DefaultUDPPort           = 16571
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultDashboardListen   = ":8765"
	DefaultMaxEvents         = 300
	DefaultSubscriberQueue   = 256
	DefaultKeepaliveInterval = 10 * time.Second
)

// RelayConfig is the startup configuration shared by the relay binaries.
// Every field is optional; the Get* methods supply defaults.
type RelayConfig struct {
	// UDP socket
	UDPHost      *string `json:"udp_host,omitempty"`
	UDPPort      *int    `json:"udp_port,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "250ms"
	ReadBuffer   *int    `json:"read_buffer,omitempty"`   // bytes, 0 keeps the OS default

	// Dashboard
	DashboardListen   *string `json:"dashboard_listen,omitempty"`
	MaxEvents         *int    `json:"max_events,omitempty"`
	SubscriberQueue   *int    `json:"subscriber_queue,omitempty"`
	KeepaliveInterval *string `json:"keepalive_interval,omitempty"` // duration string like "10s"

	// Outlet bridge
	ForwardAddress *string `json:"forward_address,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyRelayConfig returns a RelayConfig with all fields set to nil.
func EmptyRelayConfig() *RelayConfig {
	return &RelayConfig{}
}

// DefaultRelayConfig returns a RelayConfig with every field set to its default.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		UDPHost:           ptrString(DefaultUDPHost),
		UDPPort:           ptrInt(DefaultUDPPort),
		PollInterval:      ptrString(DefaultPollInterval.String()),
		ReadBuffer:        ptrInt(0),
		DashboardListen:   ptrString(DefaultDashboardListen),
		MaxEvents:         ptrInt(DefaultMaxEvents),
		SubscriberQueue:   ptrInt(DefaultSubscriberQueue),
		KeepaliveInterval: ptrString(DefaultKeepaliveInterval.String()),
		ForwardAddress:    ptrString(""),
		Verbose:           ptrBool(false),
	}
}

// LoadRelayConfig loads a RelayConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file keep their defaults, so partial configs are safe.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRelayConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RelayConfig) Validate() error {
	if c.UDPPort != nil {
		if *c.UDPPort < 1 || *c.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 1 and 65535, got %d", *c.UDPPort)
		}
	}

	if c.UDPHost != nil && *c.UDPHost != "" {
		if ip := net.ParseIP(*c.UDPHost); ip == nil && *c.UDPHost != "localhost" {
			return fmt.Errorf("udp_host must be an IP address, got %q", *c.UDPHost)
		}
	}

	if c.PollInterval != nil && *c.PollInterval != "" {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be > 0, got %s", d)
		}
	}

	if c.KeepaliveInterval != nil && *c.KeepaliveInterval != "" {
		d, err := time.ParseDuration(*c.KeepaliveInterval)
		if err != nil {
			return fmt.Errorf("invalid keepalive_interval '%s': %w", *c.KeepaliveInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("keepalive_interval must be > 0, got %s", d)
		}
	}

	if c.ReadBuffer != nil && *c.ReadBuffer < 0 {
		return fmt.Errorf("read_buffer must be non-negative, got %d", *c.ReadBuffer)
	}
	if c.MaxEvents != nil && *c.MaxEvents < 1 {
		return fmt.Errorf("max_events must be positive, got %d", *c.MaxEvents)
	}
	if c.SubscriberQueue != nil && *c.SubscriberQueue < 1 {
		return fmt.Errorf("subscriber_queue must be positive, got %d", *c.SubscriberQueue)
	}

	if c.DashboardListen != nil && *c.DashboardListen != "" {
		if _, _, err := net.SplitHostPort(*c.DashboardListen); err != nil {
			return fmt.Errorf("invalid dashboard_listen '%s': %w", *c.DashboardListen, err)
		}
	}

	if c.ForwardAddress != nil && *c.ForwardAddress != "" {
		if _, _, err := net.SplitHostPort(*c.ForwardAddress); err != nil {
			return fmt.Errorf("invalid forward_address '%s': %w", *c.ForwardAddress, err)
		}
	}

	return nil
}

// GetUDPHost returns the udp_host value or the default.
func (c *RelayConfig) GetUDPHost() string {
	if c.UDPHost == nil || *c.UDPHost == "" {
		return DefaultUDPHost
	}
	return *c.UDPHost
}

// GetUDPPort returns the udp_port value or the default.
func (c *RelayConfig) GetUDPPort() int {
	if c.UDPPort == nil {
		return DefaultUDPPort
	}
	return *c.UDPPort
}

// GetPollInterval parses and returns the PollInterval as a time.Duration.
func (c *RelayConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, DefaultPollInterval)
}

// GetReadBuffer returns the read_buffer value, 0 when unset.
func (c *RelayConfig) GetReadBuffer() int {
	if c.ReadBuffer == nil {
		return 0
	}
	return *c.ReadBuffer
}

// GetDashboardListen returns the dashboard_listen value or the default.
func (c *RelayConfig) GetDashboardListen() string {
	if c.DashboardListen == nil || *c.DashboardListen == "" {
		return DefaultDashboardListen
	}
	return *c.DashboardListen
}

// GetMaxEvents returns the max_events value or the default.
func (c *RelayConfig) GetMaxEvents() int {
	if c.MaxEvents == nil {
		return DefaultMaxEvents
	}
	return *c.MaxEvents
}

// GetSubscriberQueue returns the subscriber_queue value or the default.
func (c *RelayConfig) GetSubscriberQueue() int {
	if c.SubscriberQueue == nil {
		return DefaultSubscriberQueue
	}
	return *c.SubscriberQueue
}

// GetKeepaliveInterval parses and returns the KeepaliveInterval as a time.Duration.
func (c *RelayConfig) GetKeepaliveInterval() time.Duration {
	return parseDurationOr(c.KeepaliveInterval, DefaultKeepaliveInterval)
}

// GetForwardAddress returns the forward_address value, "" when unset.
func (c *RelayConfig) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return ""
	}
	return *c.ForwardAddress
}

// GetVerbose returns the verbose value or false.
func (c *RelayConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// Set assigns one field by its JSON name from a command-line string. It is
// used to let explicitly passed flags override file values.
func (c *RelayConfig) Set(name, value string) error {
	switch name {
	case "udp_host":
		c.UDPHost = ptrString(value)
	case "udp_port", "read_buffer", "max_events", "subscriber_queue":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		switch name {
		case "udp_port":
			c.UDPPort = ptrInt(n)
		case "read_buffer":
			c.ReadBuffer = ptrInt(n)
		case "max_events":
			c.MaxEvents = ptrInt(n)
		default:
			c.SubscriberQueue = ptrInt(n)
		}
	case "poll_interval":
		c.PollInterval = ptrString(value)
	case "dashboard_listen":
		c.DashboardListen = ptrString(value)
	case "keepalive_interval":
		c.KeepaliveInterval = ptrString(value)
	case "forward_address":
		c.ForwardAddress = ptrString(value)
	case "verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		c.Verbose = ptrBool(b)
	default:
		return fmt.Errorf("unknown config field %q", name)
	}
	return nil
}

func parseDurationOr(value *string, fallback time.Duration) time.Duration {
	if value == nil || *value == "" {
		return fallback
	}
	d, err := time.ParseDuration(*value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
