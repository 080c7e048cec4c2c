// Package outlet republishes relay samples as fixed-arity streaming outlets,
// one per stream, in the manner of a Lab Streaming Layer bridge.
package outlet

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/banshee-data/wearables.relay/internal/channels"
	"github.com/banshee-data/wearables.relay/internal/clockalign"
	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

const (
	// StreamType is the outlet content type of every bridged stream.
	StreamType = "OpenWearables"
	// Manufacturer is written into every outlet description.
	Manufacturer = "OpenWearables"
	// ChannelFormat is the sample value format of every outlet.
	ChannelFormat = "float32"

	defaultTimestampExponent = "-3"
)

// Description is the metadata an outlet is created with.
type Description struct {
	Name         string  `json:"name"`
	Type         string  `json:"stream_type"`
	ChannelCount int     `json:"channel_count"`
	NominalRate  float64 `json:"nominal_srate"` // 0 means irregular
	Format       string  `json:"channel_format"`
	SourceID     string  `json:"source_id"`

	Manufacturer      string             `json:"manufacturer"`
	DeviceToken       string             `json:"device_token"`
	DeviceName        string             `json:"device_name"`
	DeviceChannel     string             `json:"device_channel"`
	DeviceSide        string             `json:"device_side,omitempty"`
	DeviceSource      string             `json:"device_source"`
	SensorName        string             `json:"sensor_name"`
	TimestampExponent string             `json:"timestamp_exponent"`
	Channels          []channels.Channel `json:"channels"`
}

// Describe builds the outlet description of the stream s belongs to.
func Describe(s *relay.Sample) Description {
	spec := s.Spec()
	token := relay.CleanText(s.Raw["device_token"], "")
	if token == "" {
		token = relay.CleanText(s.Raw["device_id"], "unknown_device")
	}
	exponent := relay.CleanText(s.TimestampExponent, "")
	if exponent == "" || exponent == "0" {
		exponent = defaultTimestampExponent
	}

	d := Description{
		Name:              spec.Name,
		Type:              StreamType,
		ChannelCount:      spec.ChannelCount,
		Format:            ChannelFormat,
		SourceID:          spec.SourceID,
		Manufacturer:      Manufacturer,
		DeviceToken:       token,
		DeviceName:        spec.DeviceName,
		DeviceChannel:     spec.DeviceChannel,
		DeviceSource:      spec.Source,
		SensorName:        spec.SensorName,
		TimestampExponent: exponent,
		Channels:          channels.Describe(s),
	}
	if spec.DeviceChannel != "" {
		d.DeviceSide = spec.DeviceChannel
	}
	return d
}

// Outlet accepts samples of one stream.
type Outlet interface {
	PushSample(values []float64, timestamp float64) error
	Close() error
}

// Factory creates outlets.
type Factory interface {
	CreateOutlet(desc Description) (Outlet, error)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Factory Factory
	// Now is the outlet clock in seconds; defaults to timeutil.MonotonicSeconds.
	Now func() float64
	// Verbose logs every bridged sample.
	Verbose bool
}

// Bridge is a relay.SampleListener that keeps one outlet per stream and
// pushes every sample with a timestamp rebased onto the outlet clock.
type Bridge struct {
	factory Factory
	aligner *clockalign.Aligner[relay.StreamSpec]
	verbose bool

	mu       sync.Mutex
	outlets  map[relay.StreamSpec]Outlet
	channels map[string]int // last channel count per source id
}

// NewBridge returns a Bridge creating outlets through cfg.Factory.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Factory == nil {
		return nil, errors.New("outlet factory is required")
	}
	now := cfg.Now
	if now == nil {
		now = timeutil.MonotonicSeconds
	}
	return &Bridge{
		factory:  cfg.Factory,
		aligner:  clockalign.New[relay.StreamSpec](now),
		verbose:  cfg.Verbose,
		outlets:  make(map[relay.StreamSpec]Outlet),
		channels: make(map[string]int),
	}, nil
}

// HandleSample implements relay.SampleListener.
func (b *Bridge) HandleSample(s *relay.Sample, _ *net.UDPAddr) error {
	spec := s.Spec()
	timestamp := b.aligner.AlignPtr(spec, s.TimestampSeconds)

	o, err := b.outletFor(s, spec)
	if err != nil {
		return err
	}
	if err := o.PushSample(s.Values, timestamp); err != nil {
		return fmt.Errorf("push to outlet %q: %w", spec.Name, err)
	}

	if b.verbose {
		monitoring.Logf("Sample %s: %v (device_ts=%v, outlet_ts=%.6f)", spec.Name, s.Values, s.Timestamp, timestamp)
	}
	return nil
}

func (b *Bridge) outletFor(s *relay.Sample, spec relay.StreamSpec) (Outlet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o, ok := b.outlets[spec]; ok {
		return o, nil
	}

	if previous, ok := b.channels[spec.SourceID]; ok && previous != spec.ChannelCount {
		monitoring.Warn(fmt.Sprintf("stream %s changed channel count from %d to %d; creating a new outlet",
			spec.SourceID, previous, spec.ChannelCount))
	}

	o, err := b.factory.CreateOutlet(Describe(s))
	if err != nil {
		return nil, fmt.Errorf("create outlet for %q: %w", spec.SourceID, err)
	}
	b.outlets[spec] = o
	b.channels[spec.SourceID] = spec.ChannelCount
	monitoring.Logf("Created outlet: name='%s', channels=%d, source_id='%s'", spec.Name, spec.ChannelCount, spec.SourceID)
	return o, nil
}

// Outlets returns the number of outlets created so far.
func (b *Bridge) Outlets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outlets)
}

// Close closes every outlet.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for spec, o := range b.outlets {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.outlets, spec)
	}
	return errors.Join(errs...)
}

// DiscardFactory creates outlets that only check channel counts. It makes a
// bridge usable without a downstream consumer.
type DiscardFactory struct{}

// CreateOutlet implements Factory.
func (DiscardFactory) CreateOutlet(desc Description) (Outlet, error) {
	return discardOutlet{channels: desc.ChannelCount}, nil
}

type discardOutlet struct{ channels int }

func (o discardOutlet) PushSample(values []float64, _ float64) error {
	if len(values) != o.channels {
		return fmt.Errorf("sample has %d values, outlet expects %d", len(values), o.channels)
	}
	return nil
}

func (discardOutlet) Close() error { return nil }
