// Package banner prints the startup instructions shown by the relay
// binaries: where the phone app should send its packets and where the
// dashboard can be opened.
package banner

import (
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI styles.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

// Style applies ANSI codes when enabled.
type Style struct {
	Enabled bool
}

// StyleFor enables color when w is a terminal and NO_COLOR is unset.
func StyleFor(w io.Writer) Style {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return Style{}
	}
	f, ok := w.(*os.File)
	if !ok {
		return Style{}
	}
	return Style{Enabled: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

// Apply wraps text in codes.
func (s Style) Apply(text string, codes ...string) string {
	if !s.Enabled || len(codes) == 0 {
		return text
	}
	return strings.Join(codes, "") + text + Reset
}

// Discovery finds the local IPv4 addresses a phone on the same network can
// reach. The hooks default to the host's interfaces and a routing probe.
type Discovery struct {
	InterfaceAddrs func() ([]net.Addr, error)
	// Probe returns the local address the kernel would use to reach target.
	Probe  func(target string) (net.IP, error)
	Probes []string
}

var defaultProbes = []string{"8.8.8.8:80", "1.1.1.1:80"}

// IsWildcard reports whether host binds every interface.
func IsWildcard(host string) bool {
	return host == "" || host == "0.0.0.0" || host == "::"
}

// CandidateIPs returns the sorted, de-duplicated addresses for bindHost. A
// specific bind host is always included. Loopback addresses are skipped
// unless nothing else is found.
func (d Discovery) CandidateIPs(bindHost string) []string {
	ifaceAddrs := d.InterfaceAddrs
	if ifaceAddrs == nil {
		ifaceAddrs = net.InterfaceAddrs
	}
	probe := d.Probe
	if probe == nil {
		probe = routeProbe
	}
	probes := d.Probes
	if probes == nil {
		probes = defaultProbes
	}

	seen := map[string]bool{}
	if !IsWildcard(bindHost) {
		seen[bindHost] = true
	}
	if addrs, err := ifaceAddrs(); err == nil {
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if usable(ip) {
				seen[ip.String()] = true
			}
		}
	}
	for _, target := range probes {
		if ip, err := probe(target); err == nil && usable(ip) {
			seen[ip.String()] = true
		}
	}
	if len(seen) == 0 {
		return []string{"127.0.0.1"}
	}
	out := make([]string, 0, len(seen))
	for ip := range seen {
		out = append(out, ip)
	}
	slices.Sort(out)
	return out
}

// CandidateIPs uses the host's real interfaces.
func CandidateIPs(bindHost string) []string {
	return Discovery{}.CandidateIPs(bindHost)
}

func usable(ip net.IP) bool {
	return ip != nil && ip.To4() != nil && !ip.IsLoopback()
}

// routeProbe connects a UDP socket, which sends nothing but selects the
// outbound interface.
func routeProbe(target string) (net.IP, error) {
	conn, err := net.Dial("udp4", target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP, nil
}

// Startup describes what a binary is listening on.
type Startup struct {
	Title   string
	UDPHost string
	UDPPort int
	// DashboardHost and DashboardPort are printed when DashboardPort > 0.
	DashboardHost string
	DashboardPort int
	Version       string
}

// Print writes the startup banner to w.
func Print(w io.Writer, style Style, d Discovery, s Startup) {
	udpIPs := d.CandidateIPs(s.UDPHost)
	selected := udpIPs[0]

	title := s.Title + " started."
	if s.Version != "" {
		title = fmt.Sprintf("%s started (version %s).", s.Title, s.Version)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, style.Apply(title, Bold, Cyan))
	fmt.Fprintln(w, style.Apply(fmt.Sprintf("Listening for UDP packets on %s:%d", s.UDPHost, s.UDPPort), Green))
	fmt.Fprintln(w, style.Apply("Use one of these IPs in your Flutter app:", Bold))
	for _, ip := range udpIPs {
		fmt.Fprintf(w, "  - %s%s\n", style.Apply(ip, Yellow), recommended(ip == selected))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, style.Apply("Example app setup:", Bold))
	fmt.Fprintln(w, style.Apply("  final udpBridgeForwarder = UdpBridgeForwarder.instance;", Dim))
	fmt.Fprintln(w, style.Apply(fmt.Sprintf("  udpBridgeForwarder.configure(host: '%s', port: %d, enabled: true);", selected, s.UDPPort), Dim))
	fmt.Fprintln(w, style.Apply("  WearableManager().addSensorForwarder(udpBridgeForwarder);", Dim))

	if s.DashboardPort > 0 {
		dashIPs := []string{s.DashboardHost}
		if IsWildcard(s.DashboardHost) {
			dashIPs = d.CandidateIPs(s.DashboardHost)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, style.Apply("Web dashboard URLs:", Bold))
		for i, ip := range dashIPs {
			fmt.Fprintf(w, "  - %s%s\n", dashboardURL(ip, s.DashboardPort), recommended(i == 0))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Open your browser to %s\n", dashboardURL(dashIPs[0], s.DashboardPort))
	} else {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
}

func dashboardURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, fmt.Sprint(port))
}

func recommended(ok bool) string {
	if ok {
		return " (recommended)"
	}
	return ""
}
