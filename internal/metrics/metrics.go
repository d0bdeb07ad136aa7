package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds pipeline counters and their Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cycle counters
	CyclesProcessed atomic.Uint64
	CyclesDiscarded atomic.Uint64 // detector returned after stop/reset
	BusyRejections  atomic.Uint64

	// Detection counters
	DetectionsIngested atomic.Uint64
	DetectionsRendered atomic.Uint64 // above threshold and not excluded

	// Error counters
	DetectorErrors atomic.Uint64
	SourceErrors   atomic.Uint64

	// Fanout
	EventsDropped atomic.Uint64 // subscriber too slow

	// Latency tracking
	DetectLatencyMs atomic.Uint64
	CycleLatencyUs  atomic.Uint64

	// Gauges
	rateBits        atomic.Uint64 // float64 bits of the smoothed rate
	VisibleClasses  atomic.Uint64
	ExcludedClasses atomic.Uint64

	classCounts *prometheus.GaugeVec
	registry    *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classCounts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "detection_class_count",
				Help: "Detections per class in the latest cycle",
			},
			[]string{"class"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"detection_cycles_processed_total", "Total processing cycles committed", &m.CyclesProcessed},
		{"detection_cycles_discarded_total", "Cycles discarded because the pipeline was stopped mid-detection", &m.CyclesDiscarded},
		{"detection_busy_rejections_total", "Ingest attempts rejected while a detection was in flight", &m.BusyRejections},
		{"detection_ingested_total", "Total detections ingested", &m.DetectionsIngested},
		{"detection_rendered_total", "Total detections passed to the renderer", &m.DetectionsRendered},
		{"detection_detector_errors_total", "Total detector failures", &m.DetectorErrors},
		{"detection_source_errors_total", "Total frame source failures", &m.SourceErrors},
		{"detection_events_dropped_total", "Cycle events skipped for slow subscribers", &m.EventsDropped},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_detect_latency_ms",
			Help: "Latency of the latest detector call in milliseconds",
		},
		func() float64 { return float64(m.DetectLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_cycle_latency_us",
			Help: "Ranking and aggregation time of the latest cycle in microseconds",
		},
		func() float64 { return float64(m.CycleLatencyUs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_smoothed_rate_hz",
			Help: "Rolling-average processing rate",
		},
		m.SmoothedRate,
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_visible_classes",
			Help: "Classes visible in the latest cycle",
		},
		func() float64 { return float64(m.VisibleClasses.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detection_excluded_classes",
			Help: "Classes currently filtered out",
		},
		func() float64 { return float64(m.ExcludedClasses.Load()) },
	))

	m.registry.MustRegister(m.classCounts)
}

// ObserveCycle records one committed cycle.
func (m *Metrics) ObserveCycle(ingested, rendered int, counts map[string]int, visible, excluded int, took time.Duration) {
	if m == nil {
		return
	}
	m.CyclesProcessed.Add(1)
	m.DetectionsIngested.Add(uint64(ingested))
	m.DetectionsRendered.Add(uint64(rendered))
	m.VisibleClasses.Store(uint64(visible))
	m.ExcludedClasses.Store(uint64(excluded))
	m.CycleLatencyUs.Store(uint64(took.Microseconds()))

	m.classCounts.Reset()
	for class, n := range counts {
		m.classCounts.WithLabelValues(class).Set(float64(n))
	}
}

// UpdateDetectLatency stores the latest detector call duration.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetSmoothedRate stores the rolling-average rate in Hz.
func (m *Metrics) SetSmoothedRate(hz float64) {
	if m == nil {
		return
	}
	m.rateBits.Store(math.Float64bits(hz))
}

// SmoothedRate returns the last stored rate.
func (m *Metrics) SmoothedRate() float64 {
	if m == nil {
		return 0
	}
	return math.Float64frombits(m.rateBits.Load())
}

// IncBusyRejections counts an ingest refused while a detection was in flight.
func (m *Metrics) IncBusyRejections() {
	if m != nil {
		m.BusyRejections.Add(1)
	}
}

// IncCyclesDiscarded counts a detection result dropped after stop or reset.
func (m *Metrics) IncCyclesDiscarded() {
	if m != nil {
		m.CyclesDiscarded.Add(1)
	}
}

// IncDetectorErrors counts a failed detector call.
func (m *Metrics) IncDetectorErrors() {
	if m != nil {
		m.DetectorErrors.Add(1)
	}
}

// AddEventsDropped counts cycle events a subscriber missed.
func (m *Metrics) AddEventsDropped(n int) {
	if m != nil && n > 0 {
		m.EventsDropped.Add(uint64(n))
	}
}

// IncSourceErrors counts a failed frame read.
func (m *Metrics) IncSourceErrors() {
	if m != nil {
		m.SourceErrors.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
