package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

const (
	// DefaultHost binds every IPv4 interface.
	DefaultHost = "0.0.0.0"
	// DefaultPort is the port the mobile app forwards to by default.
	DefaultPort = 16571
	// DefaultPollInterval bounds each readiness wait inside Run.
	DefaultPollInterval = 250 * time.Millisecond
)

var (
	ErrNegativeTimeout     = errors.New("poll timeout must be >= 0")
	ErrInvalidPollInterval = errors.New("poll interval must be > 0")
)

// WarningFunc receives human readable warnings about dropped datagrams and
// failing listeners.
type WarningFunc func(message string)

// SampleListener receives every successfully parsed sample. Listeners run
// synchronously on the goroutine calling Poll; a returned error or a panic is
// reported as a warning and never reaches other listeners.
//
// Registration is deduplicated with ==, so listeners should be comparable
// (pointer types are). Listeners whose value is not comparable, including a
// struct holding a func in an interface field, are always appended and
// cannot be removed.
type SampleListener interface {
	HandleSample(sample *Sample, remote *net.UDPAddr) error
}

type funcListener struct {
	name string
	fn   func(*Sample, *net.UDPAddr) error
}

// ListenerFunc adapts fn into a SampleListener. Every call returns a distinct
// listener; keep the result to remove it later. name identifies the listener
// in warnings.
func ListenerFunc(name string, fn func(sample *Sample, remote *net.UDPAddr) error) SampleListener {
	return &funcListener{name: name, fn: fn}
}

func (f *funcListener) HandleSample(sample *Sample, remote *net.UDPAddr) error {
	return f.fn(sample, remote)
}

func (f *funcListener) String() string { return f.name }

// Config contains configuration options for a relay Server.
type Config struct {
	// Host is the bind address; empty means DefaultHost.
	Host string
	// Port is the bind port; 0 asks the OS for an ephemeral port.
	Port int
	// ReadBuffer sets the socket receive buffer when positive.
	ReadBuffer int
	// OnWarning defaults to monitoring.Warn.
	OnWarning WarningFunc
	// Clock stamps the last packet time; defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Registerer enables Prometheus metrics when set.
	Registerer prometheus.Registerer
	// Sockets creates the UDP socket; defaults to UDPSocketFactory.
	Sockets SocketFactory
}

// Server receives sample and probe datagrams on one UDP socket and fans
// parsed samples out to listeners. The socket is only used by the goroutine
// that calls Poll or Run; listener registration and the counters may be used
// from any goroutine.
type Server struct {
	sock      PacketSocket
	host      string
	port      int
	onWarning WarningFunc
	clock     timeutil.Clock
	metrics   *Metrics
	buf       []byte
	closed    atomic.Bool

	mu              sync.Mutex
	listeners       []SampleListener
	samplesReceived uint64
	lastPacket      time.Time
}

// NewServer binds the relay socket. Bind failures are returned; there is no
// partially working server.
func NewServer(cfg Config) (*Server, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid UDP port %d", cfg.Port)
	}

	network := "udp4"
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		network = "udp6"
	}
	addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	sockets := cfg.Sockets
	if sockets == nil {
		sockets = UDPSocketFactory{}
	}
	sock, err := sockets.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address %s: %w", addr, err)
	}

	local, ok := sock.LocalAddr().(*net.UDPAddr)
	if !ok || local == nil {
		sock.Close()
		return nil, fmt.Errorf("unexpected local address %v", sock.LocalAddr())
	}

	s := &Server{
		sock:      sock,
		host:      local.IP.String(),
		port:      local.Port,
		onWarning: cfg.OnWarning,
		clock:     cfg.Clock,
		buf:       make([]byte, MaxPacketSize),
	}
	if s.onWarning == nil {
		s.onWarning = monitoring.Warn
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}

	if cfg.ReadBuffer > 0 {
		if err := sock.SetReadBuffer(cfg.ReadBuffer); err != nil {
			s.warn("failed to set UDP receive buffer size to %d: %v", cfg.ReadBuffer, err)
		}
	}

	s.metrics, err = newMetrics(cfg.Registerer, s.port)
	if err != nil {
		sock.Close()
		return nil, err
	}
	return s, nil
}

// Host returns the bound IP address.
func (s *Server) Host() string { return s.host }

// Port returns the bound port, which differs from Config.Port when that was 0.
func (s *Server) Port() int { return s.port }

// IsClosed reports whether Close has been called.
func (s *Server) IsClosed() bool { return s.closed.Load() }

// SamplesReceived returns the number of samples delivered so far.
func (s *Server) SamplesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesReceived
}

// LastPacketTime returns the wall-clock time of the last delivered sample.
func (s *Server) LastPacketTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPacket, !s.lastPacket.IsZero()
}

// AddSampleListener registers l unless it is already registered.
func (s *Server) AddSampleListener(l SampleListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.listeners {
		if sameListener(existing, l) {
			return
		}
	}
	s.listeners = append(s.listeners, l)
}

// RemoveSampleListener removes every registration of l.
func (s *Server) RemoveSampleListener(l SampleListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.listeners[:0:0]
	for _, existing := range s.listeners {
		if !sameListener(existing, l) {
			kept = append(kept, existing)
		}
	}
	s.listeners = kept
}

// sameListener reports whether a and b are the same registration. Values that
// cannot be compared, such as a struct holding a func in an interface field,
// never match.
func sameListener(a, b SampleListener) bool {
	if a == nil || b == nil || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

// Poll waits up to timeout for a datagram, then drains every datagram that is
// already pending. It returns the number of samples delivered to listeners.
// A zero timeout never blocks. Poll on a closed server returns 0.
func (s *Server) Poll(timeout time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, nil
	}
	if timeout < 0 {
		return 0, ErrNegativeTimeout
	}

	delivered := 0
	wait := timeout
	for {
		n, remote, err := s.sock.Receive(s.buf, wait)
		if err != nil {
			// ErrNoPacket, or a socket error (closed socket included): either
			// way nothing more can be drained in this call.
			return delivered, nil
		}
		wait = 0
		if s.handleDatagram(s.buf[:n], remote) {
			delivered++
		}
	}
}

// Run polls until ctx is cancelled or the server is closed. Each iteration
// blocks for at most pollInterval, which bounds the cancellation latency.
func (s *Server) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	for {
		if s.closed.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := s.Poll(pollInterval); err != nil {
			return err
		}
	}
}

// Close releases the socket. It is safe to call more than once and while Run
// is executing on another goroutine.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.sock.Close(); err != nil {
		return fmt.Errorf("failed to close UDP socket: %w", err)
	}
	return nil
}

// handleDatagram processes one datagram and reports whether it was delivered
// as a sample.
func (s *Server) handleDatagram(packet []byte, remote *net.UDPAddr) bool {
	s.metrics.datagram()

	payload, err := DecodePayload(packet)
	if err != nil {
		s.metrics.decodeError()
		if errors.Is(err, ErrNotObject) {
			s.warn("ignoring unexpected payload type from %s", peer(remote))
		} else {
			s.warn("ignoring non-JSON packet from %s", peer(remote))
		}
		return false
	}

	if IsProbe(payload) {
		s.answerProbe(payload, remote)
		return false
	}

	sample, ok := ParseSensorSample(payload)
	if !ok {
		s.metrics.rejected()
		return false
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.samplesReceived++
	s.lastPacket = now
	listeners := append([]SampleListener(nil), s.listeners...)
	s.mu.Unlock()
	s.metrics.sample(now)

	for _, l := range listeners {
		if err := invokeListener(l, sample, remote); err != nil {
			s.metrics.listenerFailure()
			s.warn("sample listener %s failed for %s: %v", listenerName(l), peer(remote), err)
		}
	}
	return true
}

// answerProbe replies on the same flow. Send failures are ignored; the client
// simply probes again.
func (s *Server) answerProbe(payload map[string]any, remote *net.UDPAddr) {
	if remote == nil {
		return
	}
	data, err := json.Marshal(BuildProbeAck(payload))
	if err != nil {
		return
	}
	if _, err := s.sock.WriteToUDP(data, remote); err == nil {
		s.metrics.probe()
	}
}

func invokeListener(l SampleListener, sample *Sample, remote *net.UDPAddr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.HandleSample(sample, remote)
}

func listenerName(l SampleListener) string {
	if named, ok := l.(fmt.Stringer); ok {
		return named.String()
	}
	return fmt.Sprintf("%T", l)
}

func peer(addr *net.UDPAddr) string {
	if addr == nil {
		return "unknown peer"
	}
	return addr.String()
}

func (s *Server) warn(format string, args ...any) {
	s.onWarning(fmt.Sprintf(format, args...))
}
