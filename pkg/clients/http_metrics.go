package clients

import (
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nassdata/quickstats/pkg/metrics"
)

// HTTPMetrics keeps in-process request statistics for GetStats and forwards every
// observation to the Prometheus collectors in pkg/metrics.
type HTTPMetrics struct {
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64

	latencySamples []time.Duration
	sampleIndex    int
	sampleCount    int

	statusCounts map[string]int64

	mu sync.RWMutex
}

// NewHTTPMetrics creates a tracker keeping the last 1000 latency samples.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		latencySamples: make([]time.Duration, 1000),
		statusCounts:   make(map[string]int64),
	}
}

// RecordRequest records one request. status is zero when no response was received.
func (hm *HTTPMetrics) RecordRequest(method, urlPath string, latency time.Duration, status int, err error) {
	atomic.AddInt64(&hm.totalRequests, 1)
	if err != nil || status >= 400 {
		atomic.AddInt64(&hm.failedRequests, 1)
	} else {
		atomic.AddInt64(&hm.successfulRequests, 1)
	}

	class := metrics.StatusClass(status)

	hm.mu.Lock()
	hm.latencySamples[hm.sampleIndex] = latency
	hm.sampleIndex = (hm.sampleIndex + 1) % len(hm.latencySamples)
	if hm.sampleCount < len(hm.latencySamples) {
		hm.sampleCount++
	}
	hm.statusCounts[class]++
	hm.mu.Unlock()

	metrics.ObserveRequest(endpointName(method, urlPath), status, latency)
}

// endpointName reduces a request path such as /api/api_GET/ to its final segment.
func endpointName(method, urlPath string) string {
	name := path.Base(strings.TrimRight(urlPath, "/"))
	if name == "." || name == "/" || name == "" {
		return strings.ToLower(method)
	}
	return name
}

// GetAverageLatency returns the average latency over the retained samples
func (hm *HTTPMetrics) GetAverageLatency() time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if hm.sampleCount == 0 {
		return 0
	}
	var total time.Duration
	for _, sample := range hm.latencySamples[:hm.sampleCount] {
		total += sample
	}
	return total / time.Duration(hm.sampleCount)
}

// GetP95Latency returns the 95th percentile latency
func (hm *HTTPMetrics) GetP95Latency() time.Duration {
	return hm.getPercentileLatency(0.95)
}

// GetP99Latency returns the 99th percentile latency
func (hm *HTTPMetrics) GetP99Latency() time.Duration {
	return hm.getPercentileLatency(0.99)
}

func (hm *HTTPMetrics) getPercentileLatency(percentile float64) time.Duration {
	hm.mu.RLock()
	samples := make([]time.Duration, hm.sampleCount)
	copy(samples, hm.latencySamples[:hm.sampleCount])
	hm.mu.RUnlock()

	if len(samples) == 0 {
		return 0
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i] < samples[j]
	})

	index := int(float64(len(samples)-1) * percentile)
	return samples[index]
}

// GetStatusCounts returns request counts keyed by status class.
func (hm *HTTPMetrics) GetStatusCounts() map[string]int64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	counts := make(map[string]int64, len(hm.statusCounts))
	for class, count := range hm.statusCounts {
		counts[class] = count
	}
	return counts
}
