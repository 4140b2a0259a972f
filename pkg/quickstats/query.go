package quickstats

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/nassdata/quickstats/pkg/errors"
)

// Query maps QuickStats filter keys to values, e.g. commodity_desc=CORN or year__GE=2000.
type Query map[string]string

// Filter operators QuickStats accepts as key suffixes. __NOT_LIKE precedes __LIKE so the
// longer suffix wins.
var operators = []string{"__NOT_LIKE", "__LIKE", "__LE", "__LT", "__GE", "__GT", "__NE"}

var aliases = map[string]string{
	"commodity":        "commodity_desc",
	"state":            "state_name",
	"statisticcat":     "statisticcat_desc",
	"statistic":        "statisticcat_desc",
	"sector":           "sector_desc",
	"source":           "source_desc",
	"agg_level":        "agg_level_desc",
	"domain":           "domain_desc",
	"unit":             "unit_desc",
	"freq":             "freq_desc",
	"reference_period": "reference_period_desc",
	"county":           "county_name",
	"group":            "group_desc",
	"class":            "class_desc",
	"prodn_practice":   "prodn_practice_desc",
	"util_practice":    "util_practice_desc",
}

// reservedKeys are set by the fetcher and may not appear in a Query.
var reservedKeys = map[string]bool{
	"key":    true,
	"format": true,
}

// Clone returns a copy of q.
func (q Query) Clone() Query {
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// With returns a copy of q with key set to value.
func (q Query) With(key, value string) Query {
	out := q.Clone()
	out[key] = value
	return out
}

// WithYearRange returns a copy restricted to start..end inclusive.
func (q Query) WithYearRange(start, end int) Query {
	out := q.Clone()
	delete(out, "year")
	out["year__GE"] = strconv.Itoa(start)
	out["year__LE"] = strconv.Itoa(end)
	return out
}

// Merge returns a copy of q overlaid with other.
func (q Query) Merge(other Query) Query {
	out := q.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Values encodes q as URL query parameters.
func (q Query) Values() url.Values {
	v := make(url.Values, len(q))
	for key, value := range q {
		v.Set(key, value)
	}
	return v
}

// String renders q with sorted keys; it never contains the API key.
func (q Query) String() string {
	return q.Values().Encode()
}

// Keys returns the keys of q in sorted order.
func (q Query) Keys() []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize resolves aliases, lowercases field names, uppercases operator suffixes and
// rejects empty or reserved keys. Extra reserved names (the pagination parameters) are
// passed by the fetcher. Two spellings of the same filter with different values are an
// error.
func (q Query) Normalize(reserved ...string) (Query, error) {
	out := make(Query, len(q))
	extra := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		if r != "" {
			extra[strings.ToLower(r)] = true
		}
	}

	for _, rawKey := range q.Keys() {
		value := strings.TrimSpace(q[rawKey])
		key, err := normalizeKey(rawKey)
		if err != nil {
			return nil, err
		}
		if reservedKeys[key] || extra[key] {
			return nil, errors.Newf(errors.ErrorTypeValidation, "query key %q is reserved", rawKey)
		}
		if value == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "query key %q has an empty value", rawKey)
		}
		if existing, ok := out[key]; ok && existing != value {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"query key %q given twice with different values (%q, %q)", key, existing, value)
		}
		out[key] = value
	}

	return out, nil
}

func normalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	suffix := ""
	upper := strings.ToUpper(key)
	for _, op := range operators {
		if strings.HasSuffix(upper, op) {
			suffix = op
			key = key[:len(key)-len(op)]
			break
		}
	}

	base := strings.ToLower(key)
	if base == "" {
		return "", errors.Newf(errors.ErrorTypeValidation, "query key %q has no field name", raw)
	}
	if canonical, ok := aliases[base]; ok {
		base = canonical
	}
	return base + suffix, nil
}
