package quickstats

import (
	"strings"

	"github.com/nassdata/quickstats/pkg/errors"
)

// Category is one of the five dataset families the connector fetches. All categories share
// one query builder; each contributes base parameters that dataset filters refine.
type Category string

const (
	// Crops covers crop production, yield and area
	Crops Category = "crops"
	// Livestock covers inventories and animal products
	Livestock Category = "livestock"
	// Prices covers prices received by farmers
	Prices Category = "prices"
	// Economics covers agricultural economics (expenses, income, land values)
	Economics Category = "economics"
	// Census covers the Census of Agriculture
	Census Category = "census"
)

var categoryParams = map[Category]Query{
	Crops:     {"sector_desc": "CROPS", "source_desc": "SURVEY"},
	Livestock: {"sector_desc": "ANIMALS & PRODUCTS", "source_desc": "SURVEY"},
	Prices:    {"source_desc": "SURVEY", "statisticcat_desc": "PRICE RECEIVED"},
	Economics: {"sector_desc": "ECONOMICS"},
	Census:    {"source_desc": "CENSUS"},
}

var categoryTitles = map[Category]string{
	Crops:     "Crop production and yields",
	Livestock: "Livestock",
	Prices:    "Prices received",
	Economics: "Agricultural economics",
	Census:    "Census of agriculture",
}

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{Crops, Livestock, Prices, Economics, Census}
}

// ParseCategory accepts a category key, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryParams[c]; !ok {
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown category %q", s)
	}
	return c, nil
}

// Title is the human-readable category name.
func (c Category) Title() string {
	return categoryTitles[c]
}

// BaseParams returns a copy of the parameters every query in the category carries.
func (c Category) BaseParams() Query {
	return categoryParams[c].Clone()
}

// BuildQuery overlays params on the category's base parameters and normalizes the result.
// Dataset parameters win over category parameters.
func BuildQuery(c Category, params Query) (Query, error) {
	base, ok := categoryParams[c]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown category %q", c)
	}
	normalized, err := params.Normalize()
	if err != nil {
		return nil, err
	}
	return base.Merge(normalized), nil
}
