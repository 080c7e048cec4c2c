package relay

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for one relay server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	datagramsReceived prometheus.Counter
	samplesDelivered  prometheus.Counter
	decodeErrors      prometheus.Counter
	packetsRejected   prometheus.Counter
	probesAnswered    prometheus.Counter
	listenerFailures  prometheus.Counter
	lastSample        prometheus.Gauge
}

// newMetrics creates and registers relay metrics labelled with the bound port.
// It returns nil, nil when reg is nil.
func newMetrics(reg prometheus.Registerer, port int) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"port": strconv.Itoa(port)}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wearables",
			Subsystem:   "relay",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		datagramsReceived: counter("datagrams_received_total", "UDP datagrams read from the socket"),
		samplesDelivered:  counter("samples_delivered_total", "Parsed samples handed to listeners"),
		decodeErrors:      counter("decode_errors_total", "Datagrams that were not UTF-8 JSON objects"),
		packetsRejected:   counter("packets_rejected_total", "JSON packets that were neither probes nor valid samples"),
		probesAnswered:    counter("probes_answered_total", "Probe packets answered with an ack"),
		listenerFailures:  counter("listener_failures_total", "Sample listener invocations that failed"),
		lastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wearables",
			Subsystem:   "relay",
			Name:        "last_sample_timestamp_seconds",
			Help:        "Unix time of the last delivered sample",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.datagramsReceived, m.samplesDelivered, m.decodeErrors, m.packetsRejected,
		m.probesAnswered, m.listenerFailures, m.lastSample,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register relay metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) datagram() {
	if m != nil {
		m.datagramsReceived.Inc()
	}
}

func (m *Metrics) sample(at time.Time) {
	if m != nil {
		m.samplesDelivered.Inc()
		m.lastSample.Set(float64(at.UnixNano()) / 1e9)
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) rejected() {
	if m != nil {
		m.packetsRejected.Inc()
	}
}

func (m *Metrics) probe() {
	if m != nil {
		m.probesAnswered.Inc()
	}
}

func (m *Metrics) listenerFailure() {
	if m != nil {
		m.listenerFailures.Inc()
	}
}
