// Package pcapreplay re-sends the UDP payloads of a packet capture, keeping
// the original inter-packet timing scaled by a speed multiplier. It is used
// to feed recorded sensor sessions back into a running relay.
package pcapreplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/wearables.relay/internal/monitoring"
)

// Sink receives each replayed payload with its captured source address.
type Sink interface {
	Send(payload []byte, src *net.UDPAddr) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(payload []byte, src *net.UDPAddr) error

// Send calls f.
func (f SinkFunc) Send(payload []byte, src *net.UDPAddr) error { return f(payload, src) }

// Config controls a replay.
type Config struct {
	// Port keeps only datagrams sent to this UDP port. Zero keeps all.
	Port int
	// Speed scales the capture timing: 2.0 replays twice as fast. Values
	// <= 0 mean real time.
	Speed float64
	// Fast ignores capture timing entirely.
	Fast bool
	// Sleep waits between packets. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats summarizes a finished replay.
type Stats struct {
	Packets  int
	Skipped  int
	Failed   int
	Captured time.Duration
}

// ReplayFile opens a classic pcap file and replays it into sink.
func ReplayFile(ctx context.Context, path string, sink Sink, cfg Config) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return Replay(ctx, f, sink, cfg)
}

// Replay reads a classic pcap stream and sends every matching UDP payload to
// sink. Send errors are counted and logged; only read errors and
// cancellation stop the replay.
func Replay(ctx context.Context, r io.Reader, sink Sink, cfg Config) (Stats, error) {
	if sink == nil {
		return Stats{}, errors.New("replay sink is required")
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	var stats Stats
	var first, last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			if !first.IsZero() {
				stats.Captured = last.Sub(first)
			}
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+stats.Skipped+1, err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (cfg.Port != 0 && int(udp.DstPort) != cfg.Port) {
			stats.Skipped++
			continue
		}

		if first.IsZero() {
			first = ci.Timestamp
		} else if !cfg.Fast {
			delay := time.Duration(float64(ci.Timestamp.Sub(last)) / cfg.Speed)
			if delay > 0 {
				if err := cfg.Sleep(ctx, delay); err != nil {
					return stats, err
				}
			}
		}
		last = ci.Timestamp

		src := &net.UDPAddr{IP: sourceIP(packet), Port: int(udp.SrcPort)}
		if err := sink.Send(udp.Payload, src); err != nil {
			stats.Failed++
			monitoring.Logf("PCAP replay: failed to send packet %d: %v", stats.Packets+stats.Failed, err)
			continue
		}
		stats.Packets++
	}
}

func sourceIP(packet gopacket.Packet) net.IP {
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.SrcIP
	case *layers.IPv6:
		return ip.SrcIP
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UDPSink sends payloads to one fixed address.
type UDPSink struct {
	conn *net.UDPConn
}

// NewUDPSink dials address ("host:port").
func NewUDPSink(address string) (*UDPSink, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve replay target %s: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial replay target %s: %w", address, err)
	}
	return &UDPSink{conn: conn}, nil
}

// Send writes payload to the target. The captured source is not preserved.
func (s *UDPSink) Send(payload []byte, _ *net.UDPAddr) error {
	_, err := s.conn.Write(payload)
	return err
}

// Close closes the socket.
func (s *UDPSink) Close() error { return s.conn.Close() }
