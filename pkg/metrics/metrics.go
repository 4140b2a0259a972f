// Package metrics exposes Prometheus collectors for the QuickStats connector and the ingest
// runner.
//
// # Basic Usage
//
//	metrics.Requests.WithLabelValues("api_GET", "2xx").Inc()
//	metrics.RecordsFetched.Add(float64(len(page)))
//
//	tracker := metrics.NewThroughputTracker("file")
//	tracker.Increment(int64(len(batch.Records)))
//	rate := tracker.GetAndReset()
//
// All collectors are registered on Registry, which Handler serves.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nass_quickstats"

// Registry holds every collector in this package plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// Requests counts HTTP requests by endpoint and status class (2xx, 4xx, 429, 5xx, error)
	Requests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests sent to the QuickStats API",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration observes request latency by endpoint
	RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of QuickStats API requests",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"endpoint"},
	)

	// Retries counts retried requests by error type
	Retries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Requests retried after a rate limit or transient failure",
		},
		[]string{"reason"},
	)

	// PagesFetched counts pages decoded from api_GET
	PagesFetched = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Pages fetched from the QuickStats API",
		},
	)

	// RecordsFetched counts records yielded by the fetcher
	RecordsFetched = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "records_total",
			Help:      "Records fetched from the QuickStats API",
		},
	)

	// PageSize observes the number of records per page
	PageSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "page_records",
			Help:      "Records per fetched page",
			Buckets:   []float64{0, 10, 100, 1000, 5000, 10000, 25000, 50000},
		},
	)

	// Jobs counts ingest jobs by outcome (succeeded, empty, skipped, failed)
	Jobs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingest jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Bisections counts year ranges split after the server reported too many records
	Bisections = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bisections_total",
			Help:      "Year ranges split because a query exceeded the record cap",
		},
	)

	// JobDuration observes the wall time of one ingest job
	JobDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Wall time of ingest jobs including writes",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// RecordsWritten counts records persisted by sink
	RecordsWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "records_written_total",
			Help:      "Records written to the output sink",
		},
		[]string{"sink"},
	)

	// Throughput is the most recent write rate in records per second
	Throughput = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "throughput_records_per_second",
			Help:      "Current write throughput in records per second",
		},
		[]string{"sink"},
	)
)

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StatusClass buckets an HTTP status for the Requests label. Zero means the request never
// produced a response.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 100 && status < 600:
		return strconv.Itoa(status/100) + "xx"
	default:
		return "other"
	}
}

// ObserveRequest records one request against the Requests and RequestDuration collectors.
func ObserveRequest(endpoint string, status int, d time.Duration) {
	Requests.WithLabelValues(endpoint, StatusClass(status)).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ThroughputTracker tracks records per second for one sink between resets.
// Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	sink      string
}

// NewThroughputTracker creates a tracker labelled with the sink name.
func NewThroughputTracker(sink string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		sink:      sink,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput since the last reset, publishes it to the
// Throughput gauge, and resets the counter.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.sink).Set(throughput)

	return throughput
}
