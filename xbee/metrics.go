package xbee

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an Observer exporting parser and device counters to prometheus
type Metrics struct {
	FramesReceived prometheus.Counter
	FramesDropped  *prometheus.CounterVec // labels: reason
	DiscardedBytes prometheus.Counter
	FramesSent     prometheus.Counter
	BytesReceived  prometheus.Counter
	Reconnects     prometheus.Counter
}

// NewMetrics registers the xbee counters at reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xbee_frames_received_total",
			Help: "Frames received with a valid checksum.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xbee_frames_dropped_total",
			Help: "Frame candidates dropped by the parser.",
		}, []string{"reason"}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xbee_bytes_discarded_total",
			Help: "Bytes skipped while scanning for a start delimiter.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xbee_frames_sent_total",
			Help: "Frames written to the radio.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xbee_bytes_received_total",
			Help: "Raw bytes read from the link.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xbee_reconnects_total",
			Help: "Successful reconnects of the link.",
		}),
	}
	reg.MustRegister(m.FramesReceived, m.FramesDropped, m.DiscardedBytes, m.FramesSent, m.BytesReceived, m.Reconnects)
	return m
}

func (m *Metrics) FrameAccepted(int) { m.FramesReceived.Inc() }

func (m *Metrics) FrameDropped(reason DropReason) {
	m.FramesDropped.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) BytesDiscarded(n int) { m.DiscardedBytes.Add(float64(n)) }
