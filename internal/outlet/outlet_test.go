package outlet

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/testutil"
)

type pushed struct {
	values    []float64
	timestamp float64
}

type memoryOutlet struct {
	desc    Description
	pushes  []pushed
	closed  bool
	pushErr error
}

func (o *memoryOutlet) PushSample(values []float64, timestamp float64) error {
	if o.pushErr != nil {
		return o.pushErr
	}
	o.pushes = append(o.pushes, pushed{values: append([]float64(nil), values...), timestamp: timestamp})
	return nil
}

func (o *memoryOutlet) Close() error {
	o.closed = true
	return nil
}

type memoryFactory struct {
	outlets []*memoryOutlet
	err     error
}

func (f *memoryFactory) CreateOutlet(desc Description) (Outlet, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := &memoryOutlet{desc: desc}
	f.outlets = append(f.outlets, o)
	return o, nil
}

var captureLogs = testutil.CaptureLogs

var parse = testutil.ParseSample

const imuPacket = `{"type":"open_earable_udp_sample","values":[1,2,3],"device_name":"OE","device_side":"left","device_token":"tok","device_id":"id-1","sensor_name":"IMU","axis_names":["x","y","z"],"axis_units":["g","g","g"],"timestamp":%d,"timestamp_exponent":-3}`

func imu(t *testing.T, millis int) *relay.Sample {
	return parse(t, sprintf(imuPacket, millis))
}

func TestDescribe(t *testing.T) {
	d := Describe(imu(t, 0))

	assert.Equal(t, "OE [L] (id-1) - IMU", d.Name)
	assert.Equal(t, StreamType, d.Type)
	assert.Equal(t, 3, d.ChannelCount)
	assert.Equal(t, "float32", d.Format)
	assert.Zero(t, d.NominalRate)
	assert.Equal(t, "OpenWearables", d.Manufacturer)
	assert.Equal(t, "tok", d.DeviceToken)
	assert.Equal(t, "L", d.DeviceChannel)
	assert.Equal(t, "L", d.DeviceSide)
	assert.Equal(t, "id-1", d.DeviceSource)
	assert.Equal(t, "-3", d.TimestampExponent)
	require.Len(t, d.Channels, 3)
	assert.Equal(t, "L-x", d.Channels[0].Label)
	assert.Equal(t, "g", d.Channels[2].Unit)
	assert.Equal(t, "IMU", d.Channels[1].Type)
}

func TestDescribe_Defaults(t *testing.T) {
	d := Describe(parse(t, `{"type":"open_earable_udp_sample","values":[1]}`))

	assert.Equal(t, "unknown_device", d.DeviceToken)
	assert.Equal(t, "-3", d.TimestampExponent)
	assert.Empty(t, d.DeviceSide)
	assert.Equal(t, "ch_0", d.Channels[0].Label)

	d = Describe(parse(t, `{"type":"open_earable_udp_sample","values":[1],"device_id":"d","timestamp_exponent":-6}`))
	assert.Equal(t, "d", d.DeviceToken)
	assert.Equal(t, "-6", d.TimestampExponent)
}

func TestBridge_OneOutletPerStream(t *testing.T) {
	logs := captureLogs(t)
	clock := 50.0
	factory := &memoryFactory{}
	b, err := NewBridge(BridgeConfig{Factory: factory, Now: func() float64 { return clock }})
	require.NoError(t, err)

	require.NoError(t, b.HandleSample(imu(t, 1000), nil))
	clock = 51
	require.NoError(t, b.HandleSample(imu(t, 1250), nil))

	require.Len(t, factory.outlets, 1)
	o := factory.outlets[0]
	require.Len(t, o.pushes, 2)
	assert.Equal(t, 50.0, o.pushes[0].timestamp)
	assert.InDelta(t, 50.25, o.pushes[1].timestamp, 1e-9)
	assert.Equal(t, []float64{1, 2, 3}, o.pushes[1].values)
	assert.Equal(t, 1, b.Outlets())

	assert.Contains(t, logs(), "Created outlet: name='OE [L] (id-1) - IMU', channels=3, source_id='oe-v1:OE:L:IMU:id-1'")
}

func TestBridge_ChannelCountChangeCreatesNewOutlet(t *testing.T) {
	logs := captureLogs(t)
	factory := &memoryFactory{}
	b, err := NewBridge(BridgeConfig{Factory: factory, Now: func() float64 { return 1 }})
	require.NoError(t, err)

	require.NoError(t, b.HandleSample(parse(t, `{"type":"open_earable_udp_sample","values":[1,2],"source_id":"oe-v1:d:-:s:x"}`), nil))
	require.NoError(t, b.HandleSample(parse(t, `{"type":"open_earable_udp_sample","values":[1,2,3],"source_id":"oe-v1:d:-:s:x"}`), nil))

	assert.Len(t, factory.outlets, 2)
	found := false
	for _, line := range logs() {
		if strings.Contains(line, "changed channel count from 2 to 3") {
			found = true
		}
	}
	assert.True(t, found, "expected a channel count warning")

	// The earlier outlet stays open and is reused when the old arity returns.
	assert.False(t, factory.outlets[0].closed)
	require.NoError(t, b.HandleSample(parse(t, `{"type":"open_earable_udp_sample","values":[4,5],"source_id":"oe-v1:d:-:s:x"}`), nil))
	assert.Len(t, factory.outlets, 2)
	assert.Equal(t, 2, b.Outlets())
	require.Len(t, factory.outlets[0].pushes, 2)
	assert.Equal(t, []float64{4, 5}, factory.outlets[0].pushes[1].values)
}

func TestBridge_Errors(t *testing.T) {
	_, err := NewBridge(BridgeConfig{})
	assert.Error(t, err)

	captureLogs(t)
	createErr := errors.New("no outlet for you")
	b, err := NewBridge(BridgeConfig{Factory: &memoryFactory{err: createErr}})
	require.NoError(t, err)
	assert.ErrorIs(t, b.HandleSample(imu(t, 0), nil), createErr)
	assert.Zero(t, b.Outlets())

	pushErr := errors.New("outlet gone")
	factory := &memoryFactory{}
	b, err = NewBridge(BridgeConfig{Factory: factory})
	require.NoError(t, err)
	require.NoError(t, b.HandleSample(imu(t, 0), nil))
	factory.outlets[0].pushErr = pushErr
	assert.ErrorIs(t, b.HandleSample(imu(t, 10), nil), pushErr)
}

func TestBridge_Close(t *testing.T) {
	captureLogs(t)
	factory := &memoryFactory{}
	b, err := NewBridge(BridgeConfig{Factory: factory, Verbose: true})
	require.NoError(t, err)
	require.NoError(t, b.HandleSample(imu(t, 0), nil))
	require.NoError(t, b.HandleSample(parse(t, `{"type":"open_earable_udp_sample","values":[4]}`), nil))

	require.NoError(t, b.Close())
	assert.Zero(t, b.Outlets())
	for _, o := range factory.outlets {
		assert.True(t, o.closed)
	}
}

func TestDiscardFactory(t *testing.T) {
	b, err := NewBridge(BridgeConfig{Factory: DiscardFactory{}})
	require.NoError(t, err)
	require.NoError(t, b.HandleSample(imu(t, 1000), nil))
	assert.Equal(t, 1, b.Outlets())

	o, err := DiscardFactory{}.CreateOutlet(Description{ChannelCount: 2})
	require.NoError(t, err)
	assert.NoError(t, o.PushSample([]float64{1, 2}, 0))
	assert.ErrorContains(t, o.PushSample([]float64{1}, 0), "outlet expects 2")
	assert.NoError(t, o.Close())
}
