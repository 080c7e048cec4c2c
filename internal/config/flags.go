package config

import (
	"flag"
	"fmt"
)

// Field groups select which overrides a binary exposes.
const (
	FieldsUDP       = "udp"
	FieldsDashboard = "dashboard"
	FieldsForward   = "forward"
)

// flagFields maps command-line flag names to RelayConfig JSON names.
var flagFields = map[string]string{
	"host":               "udp_host",
	"port":               "udp_port",
	"poll-interval":      "poll_interval",
	"read-buffer":        "read_buffer",
	"verbose":            "verbose",
	"dashboard-listen":   "dashboard_listen",
	"max-events":         "max_events",
	"subscriber-queue":   "subscriber_queue",
	"keepalive-interval": "keepalive_interval",
	"forward":            "forward_address",
}

// Flags binds the relay settings to a flag set. A -config file provides the
// base values; flags passed explicitly on the command line win over it.
type Flags struct {
	fs         *flag.FlagSet
	configPath *string
}

// RegisterFlags adds -config plus the flags of each requested group to fs.
// The UDP group is always registered.
func RegisterFlags(fs *flag.FlagSet, groups ...string) *Flags {
	f := &Flags{fs: fs}
	f.configPath = fs.String("config", "", "Path to a JSON relay config (see "+DefaultConfigPath+")")

	fs.String("host", DefaultUDPHost, "UDP bind address")
	fs.Int("port", DefaultUDPPort, "UDP port")
	fs.Duration("poll-interval", DefaultPollInterval, "How long one receive waits for a datagram")
	fs.Int("read-buffer", 0, "UDP receive buffer size in bytes (0 keeps the OS default)")
	fs.Bool("verbose", false, "Log every received sample")

	for _, g := range groups {
		switch g {
		case FieldsDashboard:
			fs.String("dashboard-listen", DefaultDashboardListen, "Dashboard HTTP listen address")
			fs.Int("max-events", DefaultMaxEvents, "Number of recent samples kept for new dashboard clients")
			fs.Int("subscriber-queue", DefaultSubscriberQueue, "Per-client event buffer")
			fs.Duration("keepalive-interval", DefaultKeepaliveInterval, "Idle interval between SSE/websocket keepalives")
		case FieldsForward:
			fs.String("forward", "", "Downstream host:port receiving outlet JSON (empty logs outlets only)")
		}
	}
	return f
}

// ConfigPath returns the -config value.
func (f *Flags) ConfigPath() string { return *f.configPath }

// Resolve builds the effective configuration after fs has been parsed.
func (f *Flags) Resolve() (*RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if path := f.ConfigPath(); path != "" {
		loaded, err := LoadRelayConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var setErr error
	f.fs.Visit(func(fl *flag.Flag) {
		field, ok := flagFields[fl.Name]
		if !ok || setErr != nil {
			return
		}
		if err := cfg.Set(field, fl.Value.String()); err != nil {
			setErr = fmt.Errorf("-%s: %w", fl.Name, err)
		}
	})
	if setErr != nil {
		return nil, setErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
