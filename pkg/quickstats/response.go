package quickstats

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
)

// envelope is the top level of every QuickStats response body.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// apiMessage flattens the "error" member, which the API sends either as a string or as a
// list of strings.
func apiMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var (
	limitPhrases  = []string{"exceeds limit", "exceeds the limit", "too many records"}
	noDataPhrases = []string{"no data", "no records"}
	authPhrases   = []string{"unauthorized", "invalid key", "invalid api key", "api key"}
)

func containsAny(msg string, phrases []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// checkStatus maps the HTTP status line to an error before the body is looked at. Statuses
// that may carry a meaningful JSON error (400, 404, ...) return nil and are handled by
// errorFromBody.
func checkStatus(resp *http.Response, now time.Time) error {
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Auth(fmt.Sprintf("QuickStats rejected the API key (HTTP %d)", status)).
			WithDetail(errors.DetailStatusCode, status)
	case status == http.StatusTooManyRequests:
		delay := parseRetryAfter(resp.Header.Get("Retry-After"), now)
		return errors.RateLimited("QuickStats rate limit reached", delay).
			WithDetail(errors.DetailStatusCode, status)
	case status >= http.StatusInternalServerError:
		return errors.Transient(nil, fmt.Sprintf("QuickStats server error (HTTP %d)", status)).
			WithDetail(errors.DetailStatusCode, status)
	case status == http.StatusRequestEntityTooLarge:
		return errors.LimitExceeded("query exceeds the 50000 record limit").
			WithDetail(errors.DetailStatusCode, status)
	}
	return nil
}

// errorFromBody turns an API "error" member into a typed error. A nil error with empty=true
// means the API reported that nothing matched.
func errorFromBody(msg string, status int) (empty bool, err error) {
	switch {
	case containsAny(msg, limitPhrases):
		return false, errors.LimitExceeded(msg).WithDetail(errors.DetailStatusCode, status)
	case containsAny(msg, noDataPhrases):
		return true, nil
	case containsAny(msg, authPhrases):
		return false, errors.Auth(msg).WithDetail(errors.DetailStatusCode, status)
	default:
		return false, errors.New(errors.ErrorTypeQuery, msg).WithDetail(errors.DetailStatusCode, status)
	}
}

// decodeData validates a response body and returns the raw "data" array.
func decodeData(body []byte, status int) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return nil, errors.Newf(errors.ErrorTypeQuery, "QuickStats rejected the query (HTTP %d)", status).
				WithDetail(errors.DetailStatusCode, status)
		}
		return nil, errors.Malformed(err, "response is not valid JSON")
	}

	if msg := apiMessage(env.Error); msg != "" {
		empty, err := errorFromBody(msg, status)
		if empty {
			return json.RawMessage("[]"), nil
		}
		return nil, err
	}

	if status >= http.StatusBadRequest {
		return nil, errors.Newf(errors.ErrorTypeQuery, "QuickStats rejected the query (HTTP %d)", status).
			WithDetail(errors.DetailStatusCode, status)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, errors.Malformed(nil, "response has no data array")
	}
	return data, nil
}

// decodeRecords parses the "data" array into Records.
func decodeRecords(data json.RawMessage, numeric map[string]bool) ([]Record, error) {
	var rows []map[string]any
	if err := json.UnmarshalNumbers(data, &rows); err != nil {
		return nil, errors.Malformed(err, "data array does not hold records")
	}
	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if row == nil {
			return nil, errors.Malformed(nil, fmt.Sprintf("data[%d] is not an object", i))
		}
		records = append(records, coerceRecord(row, numeric))
	}
	return records, nil
}

// parseRetryAfter reads a Retry-After header given as delay seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
