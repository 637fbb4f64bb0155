package msgsock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/temoto/msgsock/helpers"
)

// MetricsConfig configures Prometheus link metrics.
type MetricsConfig struct {
	// Default: "msgsock"
	Namespace string
	Subsystem string
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
	// latency buckets in milliseconds
	Buckets []float64
}

// Metrics aggregate all links of one process. Nil *Metrics is valid and does nothing.
type Metrics struct {
	frames      *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	frameErrors *prometheus.CounterVec
	latencyMs   prometheus.Histogram
	links       prometheus.Gauge
	teardowns   *prometheus.CounterVec
	reconnects  prometheus.Counter
}

var DefaultLatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000}

func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "msgsock"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = DefaultLatencyBuckets
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frames_total",
			Help:      "Frames transferred, by direction",
		}, []string{"direction"}),

		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "bytes_total",
			Help:      "Socket bytes transferred, by direction",
		}, []string{"direction"}),

		frameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "frame_errors_total",
			Help:      "Discarded or out of order frames, by class",
		}, []string{"class"}),

		latencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "latency_milliseconds",
			Help:      "Receive time minus sender timestamp",
			Buckets:   config.Buckets,
		}),

		links: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "links_connected",
			Help:      "Currently connected links",
		}),

		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "teardowns_total",
			Help:      "Connection teardowns, by cause",
		}, []string{"kind"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Failed client connection attempts followed by backoff",
		}),
	}
}

func (m *Metrics) frameReceived(class FrameClass) {
	if m == nil {
		return
	}
	if class == FrameOK {
		m.frames.WithLabelValues("recv").Inc()
	} else {
		m.frameErrors.WithLabelValues(class.String()).Inc()
	}
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.frames.WithLabelValues("send").Inc()
	}
}

func (m *Metrics) sequenceError() {
	if m != nil {
		m.frameErrors.WithLabelValues("sequence").Inc()
	}
}

func (m *Metrics) latency(ms float64) {
	if m != nil {
		m.latencyMs.Observe(ms)
	}
}

func (m *Metrics) linkUp() {
	if m != nil {
		m.links.Inc()
	}
}

func (m *Metrics) linkDown(kind ErrorKind) {
	if m != nil {
		m.links.Dec()
		m.teardowns.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

type byteCounter struct{ c prometheus.Counter }

func (b byteCounter) Add(n int64) { b.c.Add(float64(n)) }

// byteAdder is nil for nil *Metrics.
func (m *Metrics) byteAdder(direction string) helpers.Adder {
	if m == nil {
		return nil
	}
	return byteCounter{m.bytes.WithLabelValues(direction)}
}
