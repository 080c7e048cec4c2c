// Package testutil provides shared test helpers for the relay packages.
package testutil

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/relay"
)

// ParseSample decodes a JSON sample packet and fails the test unless it is
// a sensor sample.
func ParseSample(t testing.TB, packet string) *relay.Sample {
	t.Helper()
	payload, err := relay.DecodePayload([]byte(packet))
	require.NoError(t, err)
	s, ok := relay.ParseSensorSample(payload)
	require.True(t, ok, "not a sensor sample: %s", packet)
	return s
}

// CaptureLogs redirects monitoring.Logf for the rest of the test. The
// returned function reports the trimmed lines logged so far.
func CaptureLogs(t testing.TB) func() []string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, strings.TrimSpace(fmt.Sprintf(format, v...)))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

// FreeUDPPort returns a loopback UDP port that was free a moment ago.
func FreeUDPPort(t testing.TB) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}
