// Package catalog keeps an in-memory SQLite table of every stream seen by the
// relay: identity, channel layout, counters and an estimated sample rate.
// Nothing is written to disk.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

// RateWindow is the number of inter-sample intervals the rate estimate uses.
const RateWindow = 64

// ErrNotFound is returned by Stream for unknown source ids.
var ErrNotFound = errors.New("stream not found")

// Stream is one row of the catalog.
type Stream struct {
	SourceID        string    `json:"source_id"`
	Name            string    `json:"name"`
	DeviceName      string    `json:"device_name"`
	DeviceChannel   string    `json:"device_channel"`
	DeviceSource    string    `json:"device_source"`
	SensorName      string    `json:"sensor_name"`
	ChannelCount    int       `json:"channel_count"`
	AxisNames       []string  `json:"axis_names"`
	AxisUnits       []string  `json:"axis_units"`
	SamplesReceived int64     `json:"samples_received"`
	DroppedValues   int64     `json:"dropped_values"`
	SchemaChanges   int64     `json:"schema_changes"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	LastRemote      string    `json:"last_remote"`
	RateHz          *float64  `json:"rate_hz"`
	JitterMs        *float64  `json:"jitter_ms"`
}

// Catalog is a relay.SampleListener recording every stream.
type Catalog struct {
	db    *sql.DB
	clock timeutil.Clock

	mu      sync.Mutex
	windows map[string]*rateWindow
}

// New opens an empty in-memory catalog and applies its schema.
func New(clock timeutil.Clock) (*Catalog, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Catalog{db: db, clock: clock, windows: make(map[string]*rateWindow)}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB exposes the catalog database for read-only tooling.
func (c *Catalog) DB() *sql.DB { return c.db }

// Close releases the database.
func (c *Catalog) Close() error { return c.db.Close() }

// HandleSample implements relay.SampleListener.
func (c *Catalog) HandleSample(s *relay.Sample, remote *net.UDPAddr) error {
	peer := ""
	if remote != nil {
		peer = remote.String()
	}
	return c.Observe(s, peer, c.clock.Now())
}

// Observe records one sample of a stream received at receivedAt.
func (c *Catalog) Observe(s *relay.Sample, remote string, receivedAt time.Time) error {
	spec := s.Spec()
	axisNames, err := json.Marshal(s.AxisNames)
	if err != nil {
		return fmt.Errorf("failed to encode axis names: %w", err)
	}
	axisUnits, err := json.Marshal(s.AxisUnits)
	if err != nil {
		return fmt.Errorf("failed to encode axis units: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var previousChannels sql.NullInt64
	err = c.db.QueryRow(`SELECT channel_count FROM streams WHERE source_id = ?`, spec.SourceID).Scan(&previousChannels)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up stream %q: %w", spec.SourceID, err)
	}
	schemaChange := 0
	if previousChannels.Valid && int(previousChannels.Int64) != spec.ChannelCount {
		schemaChange = 1
		monitoring.Warn(fmt.Sprintf("stream %s changed channel count from %d to %d",
			spec.SourceID, previousChannels.Int64, spec.ChannelCount))
	}

	w := c.windows[spec.SourceID]
	if w == nil {
		w = &rateWindow{}
		c.windows[spec.SourceID] = w
	}
	w.observe(s.TimestampSeconds, receivedAt)
	rate, jitter := w.estimate()

	var lastTimestamp sql.NullFloat64
	if s.TimestampSeconds != nil {
		lastTimestamp = sql.NullFloat64{Float64: *s.TimestampSeconds, Valid: true}
	}

	ms := receivedAt.UnixMilli()
	_, err = c.db.Exec(`
		INSERT INTO streams (
			source_id, name, device_name, device_channel, device_source, sensor_name,
			channel_count, axis_names, axis_units, samples_received, dropped_values,
			schema_changes, first_seen_ms, last_seen_ms, last_remote, last_timestamp_s,
			rate_hz, jitter_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			name             = excluded.name,
			device_name      = excluded.device_name,
			device_channel   = excluded.device_channel,
			device_source    = excluded.device_source,
			sensor_name      = excluded.sensor_name,
			channel_count    = excluded.channel_count,
			axis_names       = excluded.axis_names,
			axis_units       = excluded.axis_units,
			samples_received = samples_received + 1,
			dropped_values   = dropped_values + excluded.dropped_values,
			schema_changes   = schema_changes + ?,
			last_seen_ms     = excluded.last_seen_ms,
			last_remote      = excluded.last_remote,
			last_timestamp_s = excluded.last_timestamp_s,
			rate_hz          = excluded.rate_hz,
			jitter_ms        = excluded.jitter_ms
	`,
		spec.SourceID, spec.Name, spec.DeviceName, spec.DeviceChannel, spec.Source, spec.SensorName,
		spec.ChannelCount, string(axisNames), string(axisUnits), s.DroppedValues,
		ms, ms, remote, lastTimestamp, rate, jitter,
		schemaChange,
	)
	if err != nil {
		return fmt.Errorf("failed to record stream %q: %w", spec.SourceID, err)
	}
	return nil
}

const selectStreams = `
	SELECT source_id, name, device_name, device_channel, device_source, sensor_name,
	       channel_count, axis_names, axis_units, samples_received, dropped_values,
	       schema_changes, first_seen_ms, last_seen_ms, last_remote, rate_hz, jitter_ms
	FROM streams`

// Streams returns every stream ordered by device, channel and sensor,
// comparing case-insensitively.
func (c *Catalog) Streams() ([]Stream, error) {
	rows, err := c.db.Query(selectStreams + `
		ORDER BY device_name COLLATE NOCASE, device_channel COLLATE NOCASE, sensor_name COLLATE NOCASE, source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return streams, nil
}

// Stream returns one stream by source id.
func (c *Catalog) Stream(sourceID string) (Stream, error) {
	st, err := scanStream(c.db.QueryRow(selectStreams+` WHERE source_id = ?`, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return Stream{}, ErrNotFound
	}
	return st, err
}

// Count returns the number of known streams.
func (c *Catalog) Count() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM streams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count streams: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStream(row scanner) (Stream, error) {
	var (
		st                   Stream
		axisNames, axisUnits string
		firstMs, lastMs      int64
		rate, jitter         sql.NullFloat64
	)
	err := row.Scan(
		&st.SourceID, &st.Name, &st.DeviceName, &st.DeviceChannel, &st.DeviceSource, &st.SensorName,
		&st.ChannelCount, &axisNames, &axisUnits, &st.SamplesReceived, &st.DroppedValues,
		&st.SchemaChanges, &firstMs, &lastMs, &st.LastRemote, &rate, &jitter,
	)
	if err != nil {
		return Stream{}, err
	}
	if err := json.Unmarshal([]byte(axisNames), &st.AxisNames); err != nil {
		return Stream{}, fmt.Errorf("failed to decode axis names: %w", err)
	}
	if err := json.Unmarshal([]byte(axisUnits), &st.AxisUnits); err != nil {
		return Stream{}, fmt.Errorf("failed to decode axis units: %w", err)
	}
	st.FirstSeen = time.UnixMilli(firstMs).UTC()
	st.LastSeen = time.UnixMilli(lastMs).UTC()
	if rate.Valid {
		st.RateHz = &rate.Float64
	}
	if jitter.Valid {
		st.JitterMs = &jitter.Float64
	}
	return st, nil
}

// rateWindow holds the most recent inter-sample intervals of one stream.
// Sensor time is used when both samples carry it, arrival time otherwise.
type rateWindow struct {
	lastSensor  *float64
	lastArrival time.Time
	intervals   []float64
	next        int
}

func (w *rateWindow) observe(sensor *float64, arrival time.Time) {
	var interval float64
	switch {
	case sensor != nil && w.lastSensor != nil:
		interval = *sensor - *w.lastSensor
	case !w.lastArrival.IsZero():
		interval = arrival.Sub(w.lastArrival).Seconds()
	}

	if sensor != nil {
		v := *sensor
		w.lastSensor = &v
	} else {
		w.lastSensor = nil
	}
	w.lastArrival = arrival

	if interval <= 0 {
		return
	}
	if len(w.intervals) < RateWindow {
		w.intervals = append(w.intervals, interval)
		return
	}
	w.intervals[w.next] = interval
	w.next = (w.next + 1) % RateWindow
}

func (w *rateWindow) estimate() (rate, jitter sql.NullFloat64) {
	if len(w.intervals) == 0 {
		return rate, jitter
	}
	mean := stat.Mean(w.intervals, nil)
	if mean > 0 {
		rate = sql.NullFloat64{Float64: 1 / mean, Valid: true}
	}
	if len(w.intervals) > 1 {
		jitter = sql.NullFloat64{Float64: stat.StdDev(w.intervals, nil) * 1000, Valid: true}
	}
	return rate, jitter
}
