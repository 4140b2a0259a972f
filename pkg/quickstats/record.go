package quickstats

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nassdata/quickstats/pkg/json"
)

// Record is one row as returned by the API. Values are strings except for the configured
// numeric fields, which hold float64 when the API reports a number, and JSON null/bool
// values, which pass through.
type Record map[string]any

// DefaultNumericFields are the fields coerced to numbers unless configured otherwise.
var DefaultNumericFields = []string{"Value", "CV (%)"}

// Page is the ordered set of records returned by one request.
type Page struct {
	// Offset is the pagination offset the page was requested at
	Offset  int
	Records []Record
}

// String returns field as text; numbers are formatted without exponent.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric field. ok is false for withheld codes such as "(D)".
func (r Record) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case string:
		return parseNumber(v)
	default:
		return 0, false
	}
}

// Year returns the record's year field.
func (r Record) Year() (int, bool) {
	y, err := strconv.Atoi(r.String("year"))
	return y, err == nil
}

// coerceRecord converts a decoded row (numbers as json.Number) into a Record.
func coerceRecord(raw map[string]any, numeric map[string]bool) Record {
	rec := make(Record, len(raw))
	for field, value := range raw {
		switch v := value.(type) {
		case json.Number:
			if numeric[field] {
				if f, ok := parseNumber(v.String()); ok {
					rec[field] = f
					continue
				}
			}
			rec[field] = v.String()
		case string:
			if numeric[field] {
				if f, ok := parseNumber(v); ok {
					rec[field] = f
					continue
				}
			}
			rec[field] = v
		case float64:
			if numeric[field] {
				rec[field] = v
			} else {
				rec[field] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		default:
			rec[field] = v
		}
	}
	return rec
}

// parseNumber accepts QuickStats display numbers such as "2,345,000" and " 181.0 ".
// Only decimal text counts: "NaN", "Inf" and hex floats stay strings.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || strings.IndexFunc(s, notDecimal) >= 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func notDecimal(r rune) bool {
	return !(r >= '0' && r <= '9') && !strings.ContainsRune("+-.eE", r)
}

func numericSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
