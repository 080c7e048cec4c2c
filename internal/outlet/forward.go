package outlet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Message types written by the forwarder.
const (
	MessageTypeDescription = "open_earable_outlet_description"
	MessageTypeSample      = "open_earable_outlet_sample"
)

const forwardQueueSize = 1000

// DropStats receives a call for every message the forwarder could not send.
type DropStats interface {
	AddDropped()
}

// Forwarder handles asynchronous forwarding of outlet messages to another
// address. Messages are queued without blocking; a full queue drops them.
type Forwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropStats
	logInterval time.Duration
	address     string

	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewForwarder creates a forwarder that sends datagrams to address
// ("host:port"). stats may be nil.
func NewForwarder(address string, stats DropStats, logInterval time.Duration) (*Forwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &Forwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     udpAddr.String(),
		done:        make(chan struct{}),
	}, nil
}

// Start begins the goroutine that writes queued messages. It logs send
// failures at most once per log interval and stops on ctx or Close.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		failedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case msg := <-f.channel:
				if _, err := f.conn.Write(msg); err != nil {
					failedCount++
					lastError = err
					f.drop()
				}
			case <-ticker.C:
				// Only log if we have failed sends in this interval
				if failedCount > 0 && lastError != nil {
					log.Printf("\033[93mDropped %d forwarded outlet messages due to errors (latest: %v)\033[0m", failedCount, lastError)
					failedCount = 0
					lastError = nil
				}
			}
		}
	}()

	log.Printf("Forwarding outlet samples to %s", f.address)
}

// ForwardAsync queues msg without blocking. The slice is copied.
func (f *Forwarder) ForwardAsync(msg []byte) {
	if f.closed.Load() {
		f.drop()
		return
	}
	msgCopy := make([]byte, len(msg))
	copy(msgCopy, msg)

	select {
	case f.channel <- msgCopy:
	default:
		f.drop()
	}
}

func (f *Forwarder) drop() {
	f.dropped.Add(1)
	if f.stats != nil {
		f.stats.AddDropped()
	}
}

// Dropped returns the number of messages that were queued too late or failed
// to send.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Address returns the resolved destination.
func (f *Forwarder) Address() string {
	return f.address
}

// Close stops the writer goroutine and closes the connection.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.done)
		err = f.conn.Close()
	})
	return err
}

// ForwardFactory creates outlets that serialize into a shared Forwarder.
type ForwardFactory struct {
	Forwarder *Forwarder
}

// CreateOutlet announces desc downstream and returns its outlet.
func (ff ForwardFactory) CreateOutlet(desc Description) (Outlet, error) {
	if ff.Forwarder == nil {
		return nil, fmt.Errorf("forward factory has no forwarder")
	}
	announce := struct {
		Type string `json:"type"`
		Description
	}{Type: MessageTypeDescription, Description: desc}
	data, err := json.Marshal(announce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outlet description: %w", err)
	}
	ff.Forwarder.ForwardAsync(data)

	labels := make([]string, len(desc.Channels))
	for i, c := range desc.Channels {
		labels[i] = c.Label
	}
	return &forwardOutlet{desc: desc, labels: labels, fwd: ff.Forwarder}, nil
}

type forwardOutlet struct {
	desc   Description
	labels []string
	fwd    *Forwarder
}

type sampleMessage struct {
	Type      string    `json:"type"`
	SourceID  string    `json:"source_id"`
	Name      string    `json:"name"`
	Timestamp float64   `json:"timestamp"`
	Labels    []string  `json:"labels"`
	Values    []float64 `json:"values"`
}

func (o *forwardOutlet) PushSample(values []float64, timestamp float64) error {
	if len(values) != o.desc.ChannelCount {
		return fmt.Errorf("outlet %q expects %d channels, got %d", o.desc.Name, o.desc.ChannelCount, len(values))
	}
	data, err := json.Marshal(sampleMessage{
		Type:      MessageTypeSample,
		SourceID:  o.desc.SourceID,
		Name:      o.desc.Name,
		Timestamp: timestamp,
		Labels:    o.labels,
		Values:    values,
	})
	if err != nil {
		return fmt.Errorf("failed to encode outlet sample: %w", err)
	}
	o.fwd.ForwardAsync(data)
	return nil
}

// Close is a no-op; the shared Forwarder is closed by its owner.
func (o *forwardOutlet) Close() error { return nil }
