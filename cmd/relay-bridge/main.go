// Command relay-bridge turns every OpenWearables sensor stream into an
// outlet and forwards outlet descriptions and samples as JSON datagrams to a
// downstream consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/wearables.relay/internal/banner"
	"github.com/banshee-data/wearables.relay/internal/config"
	"github.com/banshee-data/wearables.relay/internal/outlet"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/version"
)

const title = "OpenWearables Outlet Bridge"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 2 for bad arguments or a failed bind.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs, config.FieldsForward)
	dropLog := fs.Duration("drop-log-interval", time.Minute, "How often forwarding drops are reported")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var factory outlet.Factory = outlet.DiscardFactory{}
	if addr := cfg.GetForwardAddress(); addr != "" {
		fwd, err := outlet.NewForwarder(addr, nil, *dropLog)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		defer fwd.Close()
		fwd.Start(ctx)
		factory = outlet.ForwardFactory{Forwarder: fwd}
	}

	bridge, err := outlet.NewBridge(outlet.BridgeConfig{Factory: factory, Verbose: cfg.GetVerbose()})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer bridge.Close()

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
	srv.AddSampleListener(bridge)

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
	fmt.Fprintf(stdout, "Stopping %s (%d outlets).\n", title, bridge.Outlets())
	return 0
}
