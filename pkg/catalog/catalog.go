// Package catalog holds the datasets the ingest runner fetches and expands them into jobs
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/quickstats"
)

//go:embed datasets.yaml
var builtin []byte

// YearRange is an inclusive span of years fetched as one unit.
type YearRange struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Dataset is a named QuickStats query plus the year ranges it is fetched in.
type Dataset struct {
	Key         string              `yaml:"key" json:"key"`
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description" json:"description"`
	Category    quickstats.Category `yaml:"category" json:"category"`
	Params      quickstats.Query    `yaml:"params" json:"params"`
	YearRanges  []YearRange         `yaml:"year_ranges" json:"year_ranges"`
}

// Query returns the dataset's filters merged over its category's base parameters, without
// a year restriction.
func (d *Dataset) Query() (quickstats.Query, error) {
	q, err := quickstats.BuildQuery(d.Category, d.Params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "dataset "+d.Key)
	}
	return q, nil
}

// Catalog is an ordered set of datasets.
type Catalog struct {
	Datasets []Dataset `yaml:"datasets" json:"datasets"`

	index map[string]int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file, or returns the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "reading catalog "+path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parsing catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks keys, categories, queries and year ranges, and builds the key index.
func (c *Catalog) Validate() error {
	if len(c.Datasets) == 0 {
		return errors.New(errors.ErrorTypeConfig, "catalog has no datasets")
	}

	c.index = make(map[string]int, len(c.Datasets))
	for i := range c.Datasets {
		d := &c.Datasets[i]
		if d.Key == "" {
			return errors.Newf(errors.ErrorTypeConfig, "catalog entry %d has no key", i)
		}
		if _, dup := c.index[d.Key]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q is defined twice", d.Key)
		}
		c.index[d.Key] = i

		category, err := quickstats.ParseCategory(string(d.Category))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "dataset "+d.Key)
		}
		d.Category = category
		if d.Name == "" {
			d.Name = d.Key
		}
		if _, err := d.Query(); err != nil {
			return err
		}

		if len(d.YearRanges) == 0 {
			return errors.Newf(errors.ErrorTypeConfig, "dataset %q has no year ranges", d.Key)
		}
		for _, r := range d.YearRanges {
			if r.Start <= 0 || r.End < r.Start {
				return errors.Newf(errors.ErrorTypeConfig, "dataset %q has invalid year range %s", d.Key, r)
			}
		}
	}
	return nil
}

// Get looks a dataset up by key.
func (c *Catalog) Get(key string) (*Dataset, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return &c.Datasets[i], true
}

// Keys returns the dataset keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		keys = append(keys, d.Key)
	}
	sort.Strings(keys)
	return keys
}

// ByCategory returns the datasets in category c, in catalog order.
func (c *Catalog) ByCategory(category quickstats.Category) []*Dataset {
	var out []*Dataset
	for i := range c.Datasets {
		if c.Datasets[i].Category == category {
			out = append(out, &c.Datasets[i])
		}
	}
	return out
}

// Select returns the datasets matching keys and category. Empty filters match everything.
// Unknown keys are an error so a typo never silently fetches nothing.
func (c *Catalog) Select(keys []string, category string) ([]*Dataset, error) {
	var want quickstats.Category
	if strings.TrimSpace(category) != "" {
		parsed, err := quickstats.ParseCategory(category)
		if err != nil {
			return nil, err
		}
		want = parsed
	}

	var selected []*Dataset
	if len(keys) == 0 {
		for i := range c.Datasets {
			selected = append(selected, &c.Datasets[i])
		}
	} else {
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			d, ok := c.Get(k)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeValidation, "unknown dataset %q", k)
			}
			selected = append(selected, d)
		}
	}

	if want == "" {
		return selected, nil
	}
	filtered := selected[:0]
	for _, d := range selected {
		if d.Category == want {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}
