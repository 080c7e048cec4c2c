package relay

import (
	"encoding/json"
	"errors"
	"maps"
	"math"
	"strconv"
	"strings"
)

const (
	unknownDevice = "unknown_device"
	unknownSensor = "unknown_sensor"
	unknownSource = "unknown_source"
)

// DeviceInfo is one physical wearable, or one side of a paired device.
type DeviceInfo struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Source  string `json:"source"`
}

// StreamInfo is one logical sensor stream. SourceID is the stable identity.
type StreamInfo struct {
	Name       string     `json:"name"`
	SourceID   string     `json:"source_id"`
	SensorName string     `json:"sensor_name"`
	Device     DeviceInfo `json:"device"`
}

// Sample is one normalized sensor packet. It is built once per datagram and
// shared by every listener, so listeners must treat it as read-only.
type Sample struct {
	Stream    StreamInfo
	Values    []float64
	AxisNames []string
	AxisUnits []string

	// Timestamp and TimestampExponent are the raw packet fields (usually
	// json.Number, nil when absent).
	Timestamp         any
	TimestampExponent any
	// TimestampSeconds is Timestamp * 10^TimestampExponent, nil when either
	// field is missing, non-numeric or the product overflows.
	TimestampSeconds *float64

	// DroppedValues counts "values" elements that were not numeric.
	DroppedValues int

	// Raw is a copy of the whole decoded payload.
	Raw map[string]any
}

// StreamSpec is the comparable per-stream key used by sinks that keep one
// piece of state per stream. ChannelCount comes from the current packet.
type StreamSpec struct {
	Name          string
	ChannelCount  int
	SourceID      string
	DeviceName    string
	DeviceChannel string
	SensorName    string
	Source        string
}

// Spec returns the stream key of s.
func (s *Sample) Spec() StreamSpec {
	return StreamSpec{
		Name:          s.Stream.Name,
		ChannelCount:  len(s.Values),
		SourceID:      s.Stream.SourceID,
		DeviceName:    s.Stream.Device.Name,
		DeviceChannel: s.Stream.Device.Channel,
		SensorName:    s.Stream.SensorName,
		Source:        s.Stream.Device.Source,
	}
}

// ParseSensorSample normalizes a decoded sample packet. It returns false for
// packets of another type and for packets without any numeric value.
func ParseSensorSample(payload map[string]any) (*Sample, bool) {
	if packetType(payload) != PacketTypeSample {
		return nil, false
	}

	values, dropped := ParseValues(payload["values"])
	if len(values) == 0 {
		return nil, false
	}

	parts := resolveIdentity(payload)

	sourceID := CleanText(payload["source_id"], "")
	if sourceID == "" {
		sourceID = EncodeSourceID(parts)
	}
	streamName := CleanText(payload["stream_name"], "")
	if streamName == "" {
		streamName = BuildStreamName(parts)
	}

	sample := &Sample{
		Stream: StreamInfo{
			Name:       streamName,
			SourceID:   sourceID,
			SensorName: parts.SensorName,
			Device: DeviceInfo{
				Name:    parts.DeviceName,
				Channel: parts.DeviceChannel,
				Source:  parts.Source,
			},
		},
		Values:            values,
		AxisNames:         stringList(payload["axis_names"]),
		AxisUnits:         stringList(payload["axis_units"]),
		Timestamp:         payload["timestamp"],
		TimestampExponent: payload["timestamp_exponent"],
		DroppedValues:     dropped,
		Raw:               maps.Clone(payload),
	}
	if seconds, ok := TimestampSeconds(payload); ok {
		sample.TimestampSeconds = &seconds
	}
	return sample, true
}

// resolveIdentity merges a decoded source id with the discrete packet fields,
// component by component. Decoded components win when they are non-empty.
func resolveIdentity(payload map[string]any) SourceIDParts {
	fallback := SourceIDParts{
		DeviceName:    firstText(payload, unknownDevice, "device_name", "device_token", "device_id"),
		DeviceChannel: NormalizeChannel(firstText(payload, "", "device_channel", "device_side")),
		SensorName:    firstText(payload, unknownSensor, "sensor_name"),
		Source:        firstText(payload, unknownSource, "device_source", "device_id", "device_token"),
	}

	rawID := CleanText(payload["source_id"], "")
	if rawID == "" {
		return fallback
	}
	decoded, ok := DecodeSourceID(rawID)
	if !ok {
		return fallback
	}

	return SourceIDParts{
		DeviceName:    orDefault(decoded.DeviceName, fallback.DeviceName),
		DeviceChannel: orDefault(NormalizeChannel(decoded.DeviceChannel), fallback.DeviceChannel),
		SensorName:    orDefault(decoded.SensorName, fallback.SensorName),
		Source:        orDefault(decoded.Source, fallback.Source),
	}
}

// firstText returns the first of keys whose value cleans to a non-empty string.
func firstText(payload map[string]any, fallback string, keys ...string) string {
	for _, key := range keys {
		if text := CleanText(payload[key], ""); text != "" {
			return text
		}
	}
	return fallback
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// ParseValues converts a "values" array to floats. Elements that are not
// numeric (null, objects, unparseable strings) are dropped and counted; the
// order of the rest is kept. Anything other than an array yields no values.
func ParseValues(raw any) (values []float64, dropped int) {
	switch items := raw.(type) {
	case []any:
		values = make([]float64, 0, len(items))
		for _, item := range items {
			f, ok := toFloat(item)
			if !ok {
				dropped++
				continue
			}
			values = append(values, f)
		}
		return values, dropped
	case []float64:
		return append([]float64(nil), items...), 0
	}
	return nil, 0
}

// TimestampSeconds returns timestamp * 10^timestamp_exponent. The exponent is
// truncated to an integer.
func TimestampSeconds(payload map[string]any) (float64, bool) {
	rawTimestamp, rawExponent := payload["timestamp"], payload["timestamp_exponent"]
	if rawTimestamp == nil || rawExponent == nil {
		return 0, false
	}

	timestamp, ok := toFloat(rawTimestamp)
	if !ok {
		return 0, false
	}
	exponent, ok := toInt(rawExponent)
	if !ok {
		return 0, false
	}

	scale := math.Pow10(exponent)
	if math.IsInf(scale, 0) {
		return 0, false
	}
	seconds := timestamp * scale
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, false
	}
	return seconds, true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		return parseFloat(string(v))
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		return parseFloat(strings.TrimSpace(v))
	}
	return 0, false
}

// parseFloat accepts out-of-range literals, which saturate to ±Inf or 0.
func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case json.Number:
		if i, err := strconv.Atoi(string(v)); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case float64:
		return truncate(v)
	case int:
		return v, true
	case int64:
		return int(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	}
	return 0, false
}

func truncate(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// stringList stringifies every element of an array; null becomes "".
// Non-array values yield an empty list.
func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			return append([]string{}, strs...)
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		text, _ := stringify(item)
		out = append(out, text)
	}
	return out
}
