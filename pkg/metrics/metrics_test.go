package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		0:   "error",
		200: "2xx",
		204: "2xx",
		400: "4xx",
		429: "429",
		503: "5xx",
		999: "other",
	}
	for status, want := range tests {
		assert.Equal(t, want, StatusClass(status), "status %d", status)
	}
}

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(Requests.WithLabelValues("get_counts", "2xx"))
	ObserveRequest("get_counts", 200, 150*time.Millisecond)
	after := testutil.ToFloat64(Requests.WithLabelValues("get_counts", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("memory")
	tracker.Increment(100)
	time.Sleep(10 * time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("memory")))
}

func TestHandlerServesCollectors(t *testing.T) {
	PagesFetched.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nass_quickstats_fetch_pages_total")
	assert.Contains(t, string(body), "go_goroutines")
}
