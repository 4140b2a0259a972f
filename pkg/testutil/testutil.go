// Package testutil provides a fake QuickStats API for tests that exercise the connector
// end to end.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nassdata/quickstats/pkg/json"
)

// APIServer serves a fixed record set the way QuickStats does: api_GET pages it with
// offset and limit, get_counts counts it and get_param_values lists a field's values.
// Filters are not applied; every query matches every record.
type APIServer struct {
	*httptest.Server

	mu       sync.Mutex
	records  []map[string]any
	requests []*url.URL
}

// NewAPIServer starts a server that is closed when the test ends.
func NewAPIServer(t testing.TB, records []map[string]any) *APIServer {
	t.Helper()
	s := &APIServer{records: records}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Requests returns the URLs received so far.
func (s *APIServer) Requests() []*url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*url.URL(nil), s.requests...)
}

// RequestCount is len(Requests()).
func (s *APIServer) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *APIServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL)
	s.mu.Unlock()

	q := r.URL.Query()
	if q.Get("key") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": []string{"unauthorized"}})
		return
	}

	switch strings.Trim(r.URL.Path, "/") {
	case "api_GET":
		writeJSON(w, http.StatusOK, map[string]any{"data": s.page(q)})
	case "get_counts":
		writeJSON(w, http.StatusOK, map[string]any{"count": len(s.records)})
	case "get_param_values":
		param := q.Get("param")
		writeJSON(w, http.StatusOK, map[string]any{param: s.values(param)})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": []string{"not found"}})
	}
}

func (s *APIServer) page(q url.Values) []map[string]any {
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = len(s.records)
	}
	if offset >= len(s.records) {
		return []map[string]any{}
	}
	return s.records[offset:min(offset+limit, len(s.records))]
}

func (s *APIServer) values(param string) []string {
	seen := map[string]bool{}
	for _, r := range s.records {
		if v, ok := r[param]; ok {
			seen[toString(v)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Records builds n records for one commodity and state, one per year from startYear.
// Values are strings as QuickStats sends them.
func Records(commodity, state string, startYear, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"commodity_desc": commodity,
			"state_name":     state,
			"year":           startYear + i,
			"Value":          strconv.Itoa(100 + i),
		}
	}
	return out
}

// Context returns a context cancelled after 30 seconds or when the test ends.
func Context(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
