// Package dashboard keeps the live view of relayed sensor streams and serves
// it to browsers over server-sent events, websockets and JSON endpoints.
package dashboard

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

// Title is shown in snapshots and on the dashboard page.
const Title = "OpenWearables Web Plotter"

// EventSample is the event name pushed for every recorded sample.
const EventSample = "sample"

// SamplePayload is one sample as the browser sees it.
type SamplePayload struct {
	StreamName        string    `json:"stream_name"`
	SourceID          string    `json:"source_id"`
	DeviceName        string    `json:"device_name"`
	DeviceChannel     string    `json:"device_channel"`
	SensorName        string    `json:"sensor_name"`
	Source            string    `json:"source"`
	RelayName         string    `json:"relay_name"`
	Values            []float64 `json:"values"`
	AxisNames         []string  `json:"axis_names"`
	AxisUnits         []string  `json:"axis_units"`
	Timestamp         any       `json:"timestamp"`
	TimestampExponent any       `json:"timestamp_exponent"`
	PlotTimestamp     float64   `json:"plot_timestamp"`
	ReceivedAt        float64   `json:"received_at"`
}

// StreamItem is the latest known state of one stream.
type StreamItem struct {
	StreamName        string    `json:"stream_name"`
	SourceID          string    `json:"source_id"`
	DeviceName        string    `json:"device_name"`
	DeviceChannel     string    `json:"device_channel"`
	SensorName        string    `json:"sensor_name"`
	Source            string    `json:"source"`
	RelayName         string    `json:"relay_name"`
	ChannelCount      int       `json:"channel_count"`
	SamplesReceived   uint64    `json:"samples_received"`
	LastValues        []float64 `json:"last_values"`
	AxisNames         []string  `json:"axis_names"`
	AxisUnits         []string  `json:"axis_units"`
	LastPlotTimestamp *float64  `json:"last_plot_timestamp"`
	LastReceivedAt    *float64  `json:"last_received_at"`
}

// Snapshot is the full dashboard state sent to a newly connected client.
type Snapshot struct {
	Title              string          `json:"title"`
	PacketsReceived    uint64          `json:"packets_received"`
	LastPacketWallTime *float64        `json:"last_packet_wall_time"`
	UDPHost            string          `json:"udp_host"`
	UDPPort            int             `json:"udp_port"`
	Streams            []StreamItem    `json:"streams"`
	RecentEvents       []SamplePayload `json:"recent_events"`
}

// SampleEvent is the body of an EventSample event.
type SampleEvent struct {
	PacketsReceived    uint64        `json:"packets_received"`
	LastPacketWallTime *float64      `json:"last_packet_wall_time"`
	Sample             SamplePayload `json:"sample"`
}

// Event is one message delivered to subscribers.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Subscription is one connected client. C is closed when the subscription
// is cancelled or dropped for falling behind.
type Subscription struct {
	ID string
	C  <-chan Event
}

// StateConfig sizes a State.
type StateConfig struct {
	UDPHost string
	UDPPort int
	// MaxEvents bounds the recent sample history. Defaults to 300.
	MaxEvents int
	// SubscriberQueue is the per-client event buffer. Defaults to 256.
	SubscriberQueue int
	// Clock stamps received_at. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// State is the shared dashboard model. It is safe for concurrent use.
type State struct {
	udpHost   string
	udpPort   int
	maxEvents int
	queueSize int
	clock     timeutil.Clock

	mu         sync.Mutex
	packets    uint64
	lastPacket *float64
	streams    map[string]*StreamItem
	recent     []SamplePayload

	subMu sync.Mutex
	subs  map[string]chan Event
}

// NewState returns an empty State.
func NewState(cfg StateConfig) *State {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 300
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &State{
		udpHost:   cfg.UDPHost,
		udpPort:   cfg.UDPPort,
		maxEvents: cfg.MaxEvents,
		queueSize: cfg.SubscriberQueue,
		clock:     cfg.Clock,
		streams:   make(map[string]*StreamItem),
		subs:      make(map[string]chan Event),
	}
}

// Record stores one sample with its plot timestamp and publishes a sample
// event to every subscriber.
func (st *State) Record(s *relay.Sample, plotTS float64) SampleEvent {
	now := unixSeconds(st.clock.Now())
	payload := SamplePayload{
		StreamName:        s.Stream.Name,
		SourceID:          s.Stream.SourceID,
		DeviceName:        s.Stream.Device.Name,
		DeviceChannel:     s.Stream.Device.Channel,
		SensorName:        s.Stream.SensorName,
		Source:            s.Stream.Device.Source,
		RelayName:         relay.CleanText(s.Raw["stream_prefix"], ""),
		Values:            s.Values,
		AxisNames:         orEmpty(s.AxisNames),
		AxisUnits:         orEmpty(s.AxisUnits),
		Timestamp:         s.Timestamp,
		TimestampExponent: s.TimestampExponent,
		PlotTimestamp:     plotTS,
		ReceivedAt:        now,
	}

	st.mu.Lock()
	st.packets++
	last := now
	st.lastPacket = &last

	item, ok := st.streams[payload.SourceID]
	if !ok {
		item = &StreamItem{}
		st.streams[payload.SourceID] = item
	}
	samples := item.SamplesReceived + 1
	ts, recv := plotTS, now
	*item = StreamItem{
		StreamName:        payload.StreamName,
		SourceID:          payload.SourceID,
		DeviceName:        payload.DeviceName,
		DeviceChannel:     payload.DeviceChannel,
		SensorName:        payload.SensorName,
		Source:            payload.Source,
		RelayName:         payload.RelayName,
		ChannelCount:      len(payload.Values),
		SamplesReceived:   samples,
		LastValues:        payload.Values,
		AxisNames:         payload.AxisNames,
		AxisUnits:         payload.AxisUnits,
		LastPlotTimestamp: &ts,
		LastReceivedAt:    &recv,
	}

	st.recent = append(st.recent, payload)
	if over := len(st.recent) - st.maxEvents; over > 0 {
		st.recent = slices.Delete(st.recent, 0, over)
	}
	ev := SampleEvent{
		PacketsReceived:    st.packets,
		LastPacketWallTime: &last,
		Sample:             payload,
	}
	st.mu.Unlock()

	st.publish(Event{Name: EventSample, Data: ev})
	return ev
}

// Snapshot returns a copy of the current state. Streams are ordered by
// device, channel and sensor, ignoring case.
func (st *State) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	streams := make([]StreamItem, 0, len(st.streams))
	for _, item := range st.streams {
		streams = append(streams, *item)
	}
	fold := cases.Fold()
	key := func(it StreamItem) [3]string {
		return [3]string{fold.String(it.DeviceName), fold.String(it.DeviceChannel), fold.String(it.SensorName)}
	}
	slices.SortFunc(streams, func(a, b StreamItem) int {
		ka, kb := key(a), key(b)
		for i := range ka {
			if c := strings.Compare(ka[i], kb[i]); c != 0 {
				return c
			}
		}
		return strings.Compare(a.SourceID, b.SourceID)
	})

	var last *float64
	if st.lastPacket != nil {
		v := *st.lastPacket
		last = &v
	}
	return Snapshot{
		Title:              Title,
		PacketsReceived:    st.packets,
		LastPacketWallTime: last,
		UDPHost:            st.udpHost,
		UDPPort:            st.udpPort,
		Streams:            streams,
		RecentEvents:       slices.Clone(st.recent),
	}
}

// Recent returns the buffered samples of one stream, oldest first.
func (st *State) Recent(sourceID string) []SamplePayload {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []SamplePayload
	for _, p := range st.recent {
		if p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	return out
}

// PacketsReceived returns the number of recorded samples.
func (st *State) PacketsReceived() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.packets
}

// LastPacketWallTime returns the Unix time of the last recorded sample.
func (st *State) LastPacketWallTime() *float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastPacket == nil {
		return nil
	}
	v := *st.lastPacket
	return &v
}

// Subscribe registers a new client.
func (st *State) Subscribe() *Subscription {
	ch := make(chan Event, st.queueSize)
	id := uuid.NewString()
	st.subMu.Lock()
	st.subs[id] = ch
	st.subMu.Unlock()
	return &Subscription{ID: id, C: ch}
}

// Unsubscribe removes a client and closes its channel. Unknown ids are
// ignored.
func (st *State) Unsubscribe(id string) {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	if ch, ok := st.subs[id]; ok {
		delete(st.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of connected clients.
func (st *State) Subscribers() int {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	return len(st.subs)
}

// publish never blocks. A full queue loses its oldest event; a queue that is
// still full after that belongs to a stuck client, which is dropped.
func (st *State) publish(ev Event) {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	for id, ch := range st.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
			delete(st.subs, id)
			close(ch)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
