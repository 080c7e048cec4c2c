package catalog

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/testutil"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

func newTestCatalog(t *testing.T) (*Catalog, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	c, err := New(clock)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, clock
}

var parse = testutil.ParseSample

func TestNew_AppliesSchema(t *testing.T) {
	c, _ := newTestCatalog(t)

	version, dirty, err := c.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	n, err := c.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleSample_RecordsStream(t *testing.T) {
	c, clock := newTestCatalog(t)
	remote := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 5000}

	s := parse(t, `{"type":"open_earable_udp_sample","values":[1,"x",3],"device_name":"OE","device_side":"R","sensor_name":"IMU","device_id":"id","axis_names":["x","y"],"axis_units":["g"]}`)
	require.NoError(t, c.HandleSample(s, remote))
	clock.Advance(50 * time.Millisecond)
	require.NoError(t, c.HandleSample(s, remote))

	st, err := c.Stream("oe-v1:OE:R:IMU:id")
	require.NoError(t, err)
	assert.Equal(t, "OE [R] (id) - IMU", st.Name)
	assert.Equal(t, "R", st.DeviceChannel)
	assert.Equal(t, "id", st.DeviceSource)
	assert.Equal(t, 2, st.ChannelCount)
	assert.Equal(t, []string{"x", "y"}, st.AxisNames)
	assert.Equal(t, []string{"g"}, st.AxisUnits)
	assert.Equal(t, int64(2), st.SamplesReceived)
	assert.Equal(t, int64(2), st.DroppedValues)
	assert.Zero(t, st.SchemaChanges)
	assert.Equal(t, "192.168.1.20:5000", st.LastRemote)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), st.FirstSeen)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 50_000_000, time.UTC), st.LastSeen)
	require.NotNil(t, st.RateHz)
	assert.InDelta(t, 20, *st.RateHz, 1e-6)
	assert.Nil(t, st.JitterMs, "one interval has no spread")
}

func TestObserve_RateFromSensorTime(t *testing.T) {
	c, _ := newTestCatalog(t)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// Arrival is bursty; sensor time says 100 Hz.
	for i, millis := range []string{"0", "10", "20", "30"} {
		s := parse(t, `{"type":"open_earable_udp_sample","values":[1],"source_id":"oe-v1:a:-:b:c","timestamp":`+millis+`,"timestamp_exponent":-3}`)
		require.NoError(t, c.Observe(s, "", at.Add(time.Duration(i%2)*time.Millisecond)))
	}

	st, err := c.Stream("oe-v1:a:-:b:c")
	require.NoError(t, err)
	require.NotNil(t, st.RateHz)
	assert.InDelta(t, 100, *st.RateHz, 1e-6)
	require.NotNil(t, st.JitterMs)
	assert.InDelta(t, 0, *st.JitterMs, 1e-6)
}

func TestObserve_SchemaChange(t *testing.T) {
	var logs []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logs = append(logs, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	c, _ := newTestCatalog(t)
	at := time.Now()
	require.NoError(t, c.Observe(parse(t, `{"type":"open_earable_udp_sample","values":[1,2],"source_id":"oe-v1:a:-:b:c"}`), "", at))
	require.NoError(t, c.Observe(parse(t, `{"type":"open_earable_udp_sample","values":[1,2,3],"source_id":"oe-v1:a:-:b:c"}`), "", at))
	require.NoError(t, c.Observe(parse(t, `{"type":"open_earable_udp_sample","values":[1,2,3],"source_id":"oe-v1:a:-:b:c"}`), "", at))

	st, err := c.Stream("oe-v1:a:-:b:c")
	require.NoError(t, err)
	assert.Equal(t, 3, st.ChannelCount)
	assert.Equal(t, int64(1), st.SchemaChanges)
	assert.Equal(t, int64(3), st.SamplesReceived)
	assert.Contains(t, logs, "warning: %s")
}

func TestStreams_SortedCaseInsensitive(t *testing.T) {
	c, _ := newTestCatalog(t)
	at := time.Now()
	for _, dev := range []string{"zeta", "Alpha", "beta"} {
		s := parse(t, `{"type":"open_earable_udp_sample","values":[1],"device_name":"`+dev+`","sensor_name":"s"}`)
		require.NoError(t, c.Observe(s, "", at))
	}

	streams, err := c.Streams()
	require.NoError(t, err)
	require.Len(t, streams, 3)
	var names []string
	for _, st := range streams {
		names = append(names, st.DeviceName)
	}
	assert.Equal(t, []string{"Alpha", "beta", "zeta"}, names)
}

func TestStream_NotFound(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, err := c.Stream("oe-v1:nobody:-:x:y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRateWindow_Bounded(t *testing.T) {
	w := &rateWindow{}
	at := time.Unix(0, 0)
	for i := 0; i < RateWindow*2; i++ {
		w.observe(nil, at.Add(time.Duration(i)*time.Second))
	}
	assert.Len(t, w.intervals, RateWindow)
	rate, jitter := w.estimate()
	assert.InDelta(t, 1.0, rate.Float64, 1e-9)
	assert.True(t, jitter.Valid)
}

func TestRateWindow_IgnoresNonPositiveIntervals(t *testing.T) {
	w := &rateWindow{}
	at := time.Unix(100, 0)
	w.observe(nil, at)
	w.observe(nil, at)
	rate, _ := w.estimate()
	assert.False(t, rate.Valid)
}

func TestAttachAdminRoutes(t *testing.T) {
	c, _ := newTestCatalog(t)
	mux := http.NewServeMux()
	require.NoError(t, c.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "SQL live debugging"), "debug index should list the SQL console")
}
