// Package channels splits a multi-channel sample into per-channel values and
// labels each channel the way downstream outlets name them.
package channels

import (
	"strconv"

	"github.com/banshee-data/wearables.relay/internal/relay"
)

// Channel describes one value position of a stream.
type Channel struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
	Type  string `json:"type"`
}

// ChannelSample is one value of a sample together with its channel.
type ChannelSample struct {
	Device     relay.DeviceInfo `json:"device"`
	SensorName string           `json:"sensor_name"`
	Channel    Channel          `json:"channel"`
	Timestamp  float64          `json:"timestamp"`
	Value      float64          `json:"value"`
}

// Describe returns one Channel per value of s. Labels come from axis_names
// (else "ch_<i>") and are prefixed with "<device channel>-" for sided devices.
func Describe(s *relay.Sample) []Channel {
	out := make([]Channel, len(s.Values))
	side := s.Stream.Device.Channel
	for i := range s.Values {
		label := "ch_" + strconv.Itoa(i)
		if i < len(s.AxisNames) && s.AxisNames[i] != "" {
			label = s.AxisNames[i]
		}
		if side != "" {
			label = side + "-" + label
		}
		unit := ""
		if i < len(s.AxisUnits) {
			unit = s.AxisUnits[i]
		}
		out[i] = Channel{Index: i, Label: label, Unit: unit, Type: s.Stream.SensorName}
	}
	return out
}

// Split returns one ChannelSample per value of s, all stamped with timestamp.
func Split(s *relay.Sample, timestamp float64) []ChannelSample {
	described := Describe(s)
	out := make([]ChannelSample, len(s.Values))
	for i, v := range s.Values {
		out[i] = ChannelSample{
			Device:     s.Stream.Device,
			SensorName: s.Stream.SensorName,
			Channel:    described[i],
			Timestamp:  timestamp,
			Value:      v,
		}
	}
	return out
}

// Labels returns just the channel labels of s.
func Labels(s *relay.Sample) []string {
	described := Describe(s)
	labels := make([]string, len(described))
	for i, c := range described {
		labels[i] = c.Label
	}
	return labels
}
