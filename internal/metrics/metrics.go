package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "loglyzer"

// Line outcomes
const (
	OutcomeAdmitted   = "admitted"
	OutcomeFiltered   = "filtered"
	OutcomeUnparsable = "unparsable"
)

// Collector provides a central place for all application metrics. Every
// Observe/Set helper is safe to call on a nil Collector.
type Collector struct {
	// Ingest metrics
	LinesTotal     *prometheus.CounterVec
	BytesRead      *prometheus.CounterVec
	FilesIngested  *prometheus.CounterVec
	ParserDuration *prometheus.HistogramVec

	// Tail metrics
	TailRotations *prometheus.CounterVec
	TailErrors    *prometheus.CounterVec
	TailState     *prometheus.GaugeVec
	TailOffset    *prometheus.GaugeVec

	// Stats server metrics
	SnapshotDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	// Reject file metrics
	RejectedLines prometheus.Counter

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initIngestMetrics()
	c.initTailMetrics()
	c.initServerMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initIngestMetrics() {
	c.LinesTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Total number of lines read, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	c.BytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from each source",
		},
		[]string{"source"},
	)

	c.FilesIngested = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of files processed in batch mode",
		},
		[]string{"status"},
	)

	c.ParserDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "duration_seconds",
			Help:      "Time taken to parse a line",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to ~16ms
		},
		[]string{"parser"},
	)
}

func (c *Collector) initTailMetrics() {
	c.TailRotations = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "reopens_total",
			Help:      "Total number of reopens after rotation or truncation",
		},
		[]string{"path", "reason"},
	)

	c.TailErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "errors_total",
			Help:      "Total number of I/O errors while following a file",
		},
		[]string{"path", "kind"},
	)

	c.TailState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "state",
			Help:      "Tail engine state (0=opening, 1=tailing, 2=reopening, 3=stopped)",
		},
		[]string{"path"},
	)

	c.TailOffset = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tail",
			Name:      "offset_bytes",
			Help:      "Current read offset of each followed file",
		},
		[]string{"path"},
	)
}

func (c *Collector) initServerMetrics() {
	c.SnapshotDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "snapshot_duration_seconds",
			Help:      "Time taken to build an aggregate snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)

	c.HTTPRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"handler", "code"},
	)

	c.HTTPDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve an HTTP request",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
		},
		[]string{"handler"},
	)

	c.RejectedLines = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reject",
			Name:      "lines_written_total",
			Help:      "Total number of unparsable lines written to the reject file",
		},
	)

	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)
}

// ObserveLine counts one line by outcome
func (c *Collector) ObserveLine(source, outcome string) {
	if c == nil {
		return
	}
	c.LinesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveParse records how long one parse took
func (c *Collector) ObserveParse(parser string, d time.Duration) {
	if c == nil {
		return
	}
	c.ParserDuration.WithLabelValues(parser).Observe(d.Seconds())
}

// AddBytes counts bytes read from source
func (c *Collector) AddBytes(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesRead.WithLabelValues(source).Add(float64(n))
}

// ObserveFile counts a batch file by status ("ok" or "failed")
func (c *Collector) ObserveFile(status string) {
	if c == nil {
		return
	}
	c.FilesIngested.WithLabelValues(status).Inc()
}

// ObserveReopen counts a reopen caused by rotation or truncation
func (c *Collector) ObserveReopen(path, reason string) {
	if c == nil {
		return
	}
	c.TailRotations.WithLabelValues(path, reason).Inc()
}

// ObserveTailError counts a transient or fatal tail error
func (c *Collector) ObserveTailError(path, kind string) {
	if c == nil {
		return
	}
	c.TailErrors.WithLabelValues(path, kind).Inc()
}

// SetTailPosition publishes the engine state and offset for path
func (c *Collector) SetTailPosition(path string, state int, offset int64) {
	if c == nil {
		return
	}
	c.TailState.WithLabelValues(path).Set(float64(state))
	c.TailOffset.WithLabelValues(path).Set(float64(offset))
}

// ObserveSnapshot records the cost of building one snapshot
func (c *Collector) ObserveSnapshot(d time.Duration) {
	if c == nil {
		return
	}
	c.SnapshotDuration.Observe(d.Seconds())
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(handler string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	c.HTTPDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// ObserveReject counts a line written to the reject file
func (c *Collector) ObserveReject() {
	if c == nil {
		return
	}
	c.RejectedLines.Inc()
}

// SetHealth publishes a component health gauge
func (c *Collector) SetHealth(component string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.HealthStatus.WithLabelValues(component).Set(v)
}

// Start begins collecting system metrics every interval
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.collectSystemMetrics()

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.collectSystemMetrics()
			}
		}
	}(c.stop, c.done)
}

// Stop halts system metric collection and waits for the collector goroutine
func (c *Collector) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
