package dashboard

import (
	"fmt"
	"net"

	"github.com/banshee-data/wearables.relay/internal/clockalign"
	"github.com/banshee-data/wearables.relay/internal/monitoring"
	"github.com/banshee-data/wearables.relay/internal/relay"
	"github.com/banshee-data/wearables.relay/internal/timeutil"
)

// Recorder is the relay listener that feeds a State. Sensor timestamps are
// rebased onto wall-clock seconds so browser plots share one time axis.
type Recorder struct {
	state   *State
	aligner *clockalign.Aligner[relay.StreamSpec]
	verbose bool
}

// NewRecorder returns a Recorder writing into state. A nil now uses
// timeutil.WallSeconds.
func NewRecorder(state *State, now func() float64, verbose bool) *Recorder {
	if now == nil {
		now = timeutil.WallSeconds
	}
	return &Recorder{
		state:   state,
		aligner: clockalign.New[relay.StreamSpec](now),
		verbose: verbose,
	}
}

// HandleSample implements relay.SampleListener.
func (r *Recorder) HandleSample(s *relay.Sample, _ *net.UDPAddr) error {
	plotTS := r.aligner.AlignPtr(s.Spec(), s.TimestampSeconds)
	r.state.Record(s, plotTS)
	if r.verbose {
		monitoring.Logf("Sample %s: %v (device_ts=%v, plot_ts=%.6f)",
			s.Stream.Name, s.Values, s.Timestamp, plotTS)
	}
	return nil
}

func (r *Recorder) String() string {
	return fmt.Sprintf("dashboard recorder (%d streams)", r.aligner.Len())
}
