package catalog

import (
	"fmt"

	"github.com/nassdata/quickstats/pkg/quickstats"
)

// Job is one dataset fetched over one year range. It is the unit of completion state.
type Job struct {
	Dataset *Dataset
	Range   YearRange
}

// JobKey names a job as {dataset}_{start}_{end}.
func JobKey(dataset string, r YearRange) string {
	return fmt.Sprintf("%s_%d_%d", dataset, r.Start, r.End)
}

// Key is the job's state key.
func (j Job) Key() string {
	return JobKey(j.Dataset.Key, j.Range)
}

func (j Job) String() string {
	return fmt.Sprintf("%s (%s)", j.Dataset.Name, j.Range)
}

// Query returns the job's query restricted to r, which must lie inside the job's range.
// The runner uses narrower ranges when it has to split a job.
func (j Job) Query(r YearRange) (quickstats.Query, error) {
	q, err := j.Dataset.Query()
	if err != nil {
		return nil, err
	}
	return q.WithYearRange(r.Start, r.End), nil
}

// Plan expands the selected datasets into jobs, one per year range, in catalog order.
func (c *Catalog) Plan(keys []string, category string) ([]Job, error) {
	datasets, err := c.Select(keys, category)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, d := range datasets {
		for _, r := range d.YearRanges {
			jobs = append(jobs, Job{Dataset: d, Range: r})
		}
	}
	return jobs, nil
}

// Split halves r. ok is false for a single year, which cannot be split.
func (r YearRange) Split() (lo, hi YearRange, ok bool) {
	if r.End <= r.Start {
		return r, r, false
	}
	mid := r.Start + (r.End-r.Start)/2
	return YearRange{Start: r.Start, End: mid}, YearRange{Start: mid + 1, End: r.End}, true
}
