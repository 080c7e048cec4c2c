package relay

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSourceIDRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		parts SourceIDParts
		want  SourceIDParts
	}{
		{
			name:  "plain",
			parts: SourceIDParts{DeviceName: "OpenEarable", DeviceChannel: "L", SensorName: "IMU", Source: "AA:BB"},
			want:  SourceIDParts{DeviceName: "OpenEarable", DeviceChannel: "L", SensorName: "IMU", Source: "AA:BB"},
		},
		{
			name:  "empty components",
			parts: SourceIDParts{DeviceName: "dev", SensorName: "baro"},
			want:  SourceIDParts{DeviceName: "dev", SensorName: "baro"},
		},
		{
			name:  "reserved characters",
			parts: SourceIDParts{DeviceName: "a:b%c", DeviceChannel: "R", SensorName: "x+y z/é", Source: "s"},
			want:  SourceIDParts{DeviceName: "a:b%c", DeviceChannel: "R", SensorName: "x+y z/é", Source: "s"},
		},
		{
			name:  "cleaned on encode",
			parts: SourceIDParts{DeviceName: "  two   words ", DeviceChannel: " ", SensorName: "s", Source: "src"},
			want:  SourceIDParts{DeviceName: "two words", SensorName: "s", Source: "src"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := EncodeSourceID(tt.parts)
			if strings.Count(id, ":") != 4 {
				t.Fatalf("expected 4 separators in %q", id)
			}
			got, ok := DecodeSourceID(id)
			if !ok {
				t.Fatalf("DecodeSourceID(%q) did not match", id)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeSourceID_Format(t *testing.T) {
	got := EncodeSourceID(SourceIDParts{DeviceName: "Open Earable", SensorName: "IMU", Source: "a:b"})
	want := "oe-v1:Open%20Earable:-:IMU:a%3Ab"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestDecodeSourceID_NoMatch(t *testing.T) {
	for _, id := range []string{
		"",
		"oe-v1",
		"oe-v1:a:b:c",
		"oe-v1:a:b:c:d:e",
		"oe-v2:a:b:c:d",
		"OE-V1:a:b:c:d",
		"something else entirely",
	} {
		if _, ok := DecodeSourceID(id); ok {
			t.Errorf("Expected no match for %q", id)
		}
	}
}

func TestDecodeSourceID_MalformedEscapeKeptLiterally(t *testing.T) {
	got, ok := DecodeSourceID("oe-v1:dev%zz:-:imu:src")
	if !ok {
		t.Fatal("Expected a match")
	}
	if got.DeviceName != "dev%zz" {
		t.Errorf("Expected literal token, got %q", got.DeviceName)
	}
}

func TestDecodeSourceID_PartialEscapes(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"A%20B%zz", "A B%zz"},
		{"%zz%3Ax", "%zz:x"},
		{"50%", "50%"},
		{"x%4", "x%4"},
		{"end%41", "endA"},
		{"a+b", "a+b"},
		{"%C3%A9t%C3%A9", "été"},
		{"bad%FFbyte", "bad�byte"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := DecodeSourceID("oe-v1:" + tt.token + ":-:acc:src")
			if !ok {
				t.Fatal("Expected a match")
			}
			if got.DeviceName != tt.want {
				t.Errorf("DeviceName = %q, want %q", got.DeviceName, tt.want)
			}
		})
	}
}

func TestBuildStreamName(t *testing.T) {
	tests := []struct {
		parts SourceIDParts
		want  string
	}{
		{SourceIDParts{DeviceName: "OE", DeviceChannel: "L", SensorName: "IMU", Source: "abc"}, "OE [L] (abc) - IMU"},
		{SourceIDParts{DeviceName: "OE", SensorName: "IMU", Source: "abc"}, "OE (abc) - IMU"},
	}
	for _, tt := range tests {
		if got := BuildStreamName(tt.parts); got != tt.want {
			t.Errorf("BuildStreamName(%+v) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}
