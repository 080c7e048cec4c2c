// Command pcap-replay sends the OpenWearables datagrams of a recorded pcap
// file to a running relay, keeping the captured timing.
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
	"syscall"

	"github.com/banshee-data/wearables.relay/internal/config"
	"github.com/banshee-data/wearables.relay/internal/pcapreplay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pcap-replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pcapFile := fs.String("pcap", "", "Path to a classic pcap capture (required)")
	target := fs.String("target", fmt.Sprintf("127.0.0.1:%d", config.DefaultUDPPort), "Relay address to send to")
	port := fs.Int("port", config.DefaultUDPPort, "Only replay datagrams sent to this UDP port (0 = all)")
	speed := fs.Float64("speed", 1.0, "Replay speed multiplier")
	fast := fs.Bool("fast", false, "Ignore capture timing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *pcapFile == "" {
		fmt.Fprintln(stderr, "-pcap is required")
		return 2
	}
	if *port < 0 || *port > 65535 {
		fmt.Fprintf(stderr, "-port must be between 0 and 65535, got %d\n", *port)
		return 2
	}
	if _, _, err := net.SplitHostPort(*target); err != nil {
		fmt.Fprintf(stderr, "invalid -target %q: %v\n", *target, err)
		return 2
	}

	sink, err := pcapreplay.NewUDPSink(*target)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer sink.Close()

	log.Printf("PCAP replay: %s -> %s (port filter %d, speed %.1fx, fast=%v)", *pcapFile, *target, *port, *speed, *fast)
	stats, err := pcapreplay.ReplayFile(ctx, *pcapFile, sink, pcapreplay.Config{
		Port:  *port,
		Speed: *speed,
		Fast:  *fast,
	})
	log.Printf("PCAP replay: sent=%d skipped=%d failed=%d captured=%v", stats.Packets, stats.Skipped, stats.Failed, stats.Captured)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
