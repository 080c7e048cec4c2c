// Command relay-dashboard receives OpenWearables UDP sensor packets and
// plots them live in a browser.
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
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/wearables.relay/internal/banner"
	"github.com/banshee-data/wearables.relay/internal/catalog"
	"github.com/banshee-data/wearables.relay/internal/config"
	"github.com/banshee-data/wearables.relay/internal/dashboard"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
	"github.com/banshee-data/wearables.relay/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 2 for bad arguments or a failed bind.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay-dashboard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs, config.FieldsDashboard)
	noCatalog := fs.Bool("no-catalog", false, "Disable the in-memory stream catalog and its SQL console")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := flags.Resolve()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	dashHost, dashPort, err := splitListen(cfg.GetDashboardListen())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := relay.NewServer(relay.Config{
		Host:       cfg.GetUDPHost(),
		Port:       cfg.GetUDPPort(),
		ReadBuffer: cfg.GetReadBuffer(),
		Registerer: reg,
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to start UDP relay: %v\n", err)
		return 2
	}
	defer srv.Close()

	state := dashboard.NewState(dashboard.StateConfig{
		UDPHost:         srv.Host(),
		UDPPort:         srv.Port(),
		MaxEvents:       cfg.GetMaxEvents(),
		SubscriberQueue: cfg.GetSubscriberQueue(),
	})
	srv.AddSampleListener(dashboard.NewRecorder(state, nil, cfg.GetVerbose()))

	var cat *catalog.Catalog
	if !*noCatalog {
		cat, err = catalog.New(timeutil.RealClock{})
		if err != nil {
			fmt.Fprintf(stderr, "failed to create stream catalog: %v\n", err)
			return 1
		}
		defer cat.Close()
		srv.AddSampleListener(cat)
	}

	web, err := dashboard.NewWebServer(dashboard.WebServerConfig{
		Address:   cfg.GetDashboardListen(),
		State:     state,
		Catalog:   cat,
		Gatherer:  reg,
		Keepalive: cfg.GetKeepaliveInterval(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to create dashboard: %v\n", err)
		return 1
	}
	addr, err := web.Listen()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		dashPort = tcp.Port
	}

	banner.Print(stdout, banner.StyleFor(stdout), banner.Discovery{}, banner.Startup{
		Title:         dashboard.Title,
		UDPHost:       srv.Host(),
		UDPPort:       srv.Port(),
		DashboardHost: dashHost,
		DashboardPort: dashPort,
		Version:       version.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := web.Serve(ctx); err != nil {
			log.Printf("dashboard server error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		if err := srv.Run(ctx, cfg.GetPollInterval()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("relay server error: %v", err)
		}
	}()
	wg.Wait()

	fmt.Fprintln(stdout, "Stopping OpenWearables Web Plotter.")
	return 0
}

// splitListen returns the advertised host and port of a listen address. An
// empty host binds every interface.
func splitListen(listen string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("invalid dashboard listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid dashboard port %q: %w", portStr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
