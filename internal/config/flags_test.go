package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFlagSet(groups ...string) (*flag.FlagSet, *Flags) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, RegisterFlags(fs, groups...)
}

func TestResolveDefaults(t *testing.T) {
	fs, f := newFlagSet(FieldsDashboard)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.GetUDPPort() != DefaultUDPPort || cfg.GetDashboardListen() != DefaultDashboardListen {
		t.Errorf("unexpected defaults: %d %s", cfg.GetUDPPort(), cfg.GetDashboardListen())
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"udp_port": 9000, "max_events": 50, "poll_interval": "1s"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, f := newFlagSet(FieldsDashboard, FieldsForward)
	args := []string{"-config", path, "-port", "9100", "-poll-interval", "100ms", "-verbose", "-forward", "127.0.0.1:7000"}
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := cfg.GetUDPPort(); got != 9100 {
		t.Errorf("udp_port = %d, want 9100", got)
	}
	if got := cfg.GetMaxEvents(); got != 50 {
		t.Errorf("max_events = %d, want file value 50", got)
	}
	if got := cfg.GetPollInterval(); got != 100*time.Millisecond {
		t.Errorf("poll_interval = %v, want 100ms", got)
	}
	if !cfg.GetVerbose() {
		t.Error("verbose not applied")
	}
	if got := cfg.GetForwardAddress(); got != "127.0.0.1:7000" {
		t.Errorf("forward_address = %q", got)
	}
}

func TestResolveUnsetFlagsKeepFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"udp_host": "127.0.0.1"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	fs, f := newFlagSet()
	if err := fs.Parse([]string{"-config", path}); err != nil {
		t.Fatal(err)
	}
	cfg, err := f.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := cfg.GetUDPHost(); got != "127.0.0.1" {
		t.Errorf("udp_host = %q, want file value", got)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"-config", "/nonexistent/relay.json"}},
		{"port out of range", []string{"-port", "70000"}},
		{"bad host", []string{"-host", "not a host"}},
		{"bad listen", []string{"-dashboard-listen", "8765"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, f := newFlagSet(FieldsDashboard)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			if _, err := f.Resolve(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegisterFlagsGroups(t *testing.T) {
	fs, _ := newFlagSet()
	if fs.Lookup("dashboard-listen") != nil || fs.Lookup("forward") != nil {
		t.Error("optional groups registered without being requested")
	}
	for name := range flagFields {
		fs, _ := newFlagSet(FieldsDashboard, FieldsForward)
		if fs.Lookup(name) == nil {
			t.Errorf("flag -%s not registered", name)
		}
	}
}
