// Command relay-hooks is the minimal receiver: every sensor sample and every
// single channel value is handed to a placeholder hook. Replace the two
// handle functions with your own processing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/banshee-data/wearables.relay/internal/banner"
	"github.com/banshee-data/wearables.relay/internal/channels"
	"github.com/banshee-data/wearables.relay/internal/clockalign"
	"github.com/banshee-data/wearables.relay/internal/config"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
	"github.com/banshee-data/wearables.relay/internal/version"
)

const title = "OpenWearables Minimal Receiver"

// hooks feeds the placeholder handlers from the relay.
type hooks struct {
	out     io.Writer
	aligner *clockalign.Aligner[relay.StreamSpec]
}

func newHooks(out io.Writer, now func() float64) *hooks {
	return &hooks{out: out, aligner: clockalign.New[relay.StreamSpec](now)}
}

func (h *hooks) HandleSample(s *relay.Sample, _ *net.UDPAddr) error {
	ts := h.aligner.AlignPtr(s.Spec(), s.TimestampSeconds)
	h.handleSensorSample(s, ts)
	for _, cs := range channels.Split(s, ts) {
		h.handleChannelSample(cs)
	}
	return nil
}

func (h *hooks) String() string { return "placeholder hooks" }

// handleSensorSample receives the full multi-channel sample.
func (h *hooks) handleSensorSample(s *relay.Sample, timestamp float64) {
	device := s.Stream.Device
	side := ""
	if device.Channel != "" {
		side = "[" + device.Channel + "] "
	}
	fmt.Fprintf(h.out, "%s %s%s ts=%.6f values=%s\n",
		device.Name, side, s.Stream.SensorName, timestamp, formatValues(s.Values))
}

// handleChannelSample receives each channel value on its own, for example to
// route cs.Device.Name to a per-device pipeline or map cs.SensorName plus
// cs.Channel.Label to custom processing.
func (h *hooks) handleChannelSample(cs channels.ChannelSample) {
	_ = cs
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 2 for bad arguments or a failed bind.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay-hooks", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	srv, err := relay.NewServer(relay.Config{
		Host:       cfg.GetUDPHost(),
		Port:       cfg.GetUDPPort(),
		ReadBuffer: cfg.GetReadBuffer(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to start UDP relay: %v\n", err)
		return 2
	}
	defer srv.Close()
	srv.AddSampleListener(newHooks(stdout, timeutil.MonotonicSeconds))

	banner.Print(stdout, banner.StyleFor(stdout), banner.Discovery{}, banner.Startup{
		Title:   title,
		UDPHost: srv.Host(),
		UDPPort: srv.Port(),
		Version: version.String(),
	})

	if err := srv.Run(ctx, cfg.GetPollInterval()); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("relay server error: %v", err)
		return 1
	}
	fmt.Fprintln(stdout, "\nStopping minimal receiver...")
	return 0
}
