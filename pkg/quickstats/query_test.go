package quickstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
)

func TestNormalize(t *testing.T) {
	q, err := Query{
		"commodity":        "CORN",
		"State":            "IOWA",
		"year__ge":         "2000",
		"Year__Le":         "2010",
		"statisticcat":     "YIELD",
		"short_desc":       "CORN, GRAIN - YIELD, MEASURED IN BU / ACRE",
		"county__NOT_LIKE": "OTHER%",
	}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, Query{
		"commodity_desc":        "CORN",
		"state_name":            "IOWA",
		"year__GE":              "2000",
		"year__LE":              "2010",
		"statisticcat_desc":     "YIELD",
		"short_desc":            "CORN, GRAIN - YIELD, MEASURED IN BU / ACRE",
		"county_name__NOT_LIKE": "OTHER%",
	}, q)
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		extra []string
	}{
		{"api key", Query{"key": "secret"}, nil},
		{"format", Query{"Format": "CSV"}, nil},
		{"pagination", Query{"offset": "10"}, []string{"offset", "limit"}},
		{"empty value", Query{"commodity": "  "}, nil},
		{"operator only", Query{"__GE": "2000"}, nil},
		{"conflicting aliases", Query{"commodity": "CORN", "commodity_desc": "WHEAT"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.query.Normalize(tt.extra...)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestNormalizeAcceptsAgreeingAliases(t *testing.T) {
	q, err := Query{"commodity": "CORN", "commodity_desc": "CORN"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Query{"commodity_desc": "CORN"}, q)
}

func TestQueryHelpers(t *testing.T) {
	base := Query{"commodity_desc": "CORN", "year": "2020"}

	ranged := base.WithYearRange(1990, 1999)
	assert.Equal(t, Query{"commodity_desc": "CORN", "year__GE": "1990", "year__LE": "1999"}, ranged)
	assert.Equal(t, "2020", base["year"], "receiver is not modified")

	assert.Equal(t, "commodity_desc=CORN&year=2020", base.String())
	assert.Equal(t, []string{"commodity_desc", "year"}, base.Keys())
	assert.Equal(t, "IOWA", base.With("state_name", "IOWA")["state_name"])
	assert.Equal(t, Query{"commodity_desc": "WHEAT", "year": "2020"}, base.Merge(Query{"commodity_desc": "WHEAT"}))
}

func TestCategories(t *testing.T) {
	assert.Len(t, Categories(), 5)
	for _, c := range Categories() {
		assert.NotEmpty(t, c.Title())
		assert.NotEmpty(t, c.BaseParams())
	}

	c, err := ParseCategory(" Livestock ")
	require.NoError(t, err)
	assert.Equal(t, Livestock, c)

	_, err = ParseCategory("forestry")
	assert.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	q, err := BuildQuery(Crops, Query{"commodity": "CORN", "source": "CENSUS"})
	require.NoError(t, err)
	assert.Equal(t, Query{
		"sector_desc":    "CROPS",
		"source_desc":    "CENSUS",
		"commodity_desc": "CORN",
	}, q)

	// base parameters are copied, never shared
	q["sector_desc"] = "ANIMALS & PRODUCTS"
	assert.Equal(t, "CROPS", Crops.BaseParams()["sector_desc"])

	_, err = BuildQuery(Category("forestry"), Query{})
	assert.Error(t, err)

	_, err = BuildQuery(Prices, Query{"key": "x"})
	assert.Error(t, err)
}

func TestCoerceRecord(t *testing.T) {
	raw := map[string]any{
		"Value":          "2,345,000",
		"CV (%)":         "(Z)",
		"year":           json.Number("2021"),
		"commodity_desc": "HOGS",
		"week_ending":    nil,
		"load_time":      json.Number("1.5"),
	}
	rec := coerceRecord(raw, numericSet(DefaultNumericFields))

	assert.Equal(t, 2345000.0, rec["Value"])
	assert.Equal(t, "(Z)", rec["CV (%)"])
	assert.Equal(t, "2021", rec["year"])
	assert.Equal(t, "1.5", rec["load_time"])
	assert.Nil(t, rec["week_ending"])

	v, ok := rec.Float("Value")
	assert.True(t, ok)
	assert.Equal(t, 2345000.0, v)
	_, ok = rec.Float("CV (%)")
	assert.False(t, ok)
	assert.Equal(t, "2345000", rec.String("Value"))
	assert.Equal(t, "", rec.String("week_ending"))
}

func TestCoerceRecordKeepsNonDecimalText(t *testing.T) {
	for _, in := range []string{"NaN", "Infinity", "-Inf", "0x1p-2", "1e400", "(D)"} {
		rec := coerceRecord(map[string]any{"Value": in}, numericSet(DefaultNumericFields))
		assert.Equal(t, in, rec["Value"], in)
		_, ok := rec.Float("Value")
		assert.False(t, ok, in)
	}

	rec := coerceRecord(map[string]any{"Value": "-1.5e3"}, numericSet(DefaultNumericFields))
	assert.Equal(t, -1500.0, rec["Value"])
}

func TestDecodeDataErrorShapes(t *testing.T) {
	data, err := decodeData([]byte(`{"error":"no records found"}`), 200)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	_, err = decodeData([]byte(`{"error":["exceeds limit=50000"]}`), 400)
	assert.True(t, errors.IsLimitExceeded(err))

	_, err = decodeData([]byte(`{"data":null}`), 200)
	assert.True(t, errors.IsMalformed(err))

	_, err = decodeRecords(json.RawMessage(`[1,2]`), nil)
	assert.True(t, errors.IsMalformed(err))
}
