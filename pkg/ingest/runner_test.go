package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nassdata/quickstats/pkg/catalog"
	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
	"github.com/nassdata/quickstats/pkg/state"
)

// fakeFetcher returns one record per year in the queried range. Ranges wider than
// maxYears fail with a limit error, like a query over the server cap.
type fakeFetcher struct {
	mu       sync.Mutex
	maxYears int
	empty    map[string]bool
	fail     map[string]error
	queries  []quickstats.Query
}

func (f *fakeFetcher) FetchAll(ctx context.Context, q quickstats.Query) ([]quickstats.Record, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commodity := q["commodity_desc"]
	if err := f.fail[commodity]; err != nil {
		return nil, err
	}
	if f.empty[commodity] {
		return []quickstats.Record{}, nil
	}
	start, _ := strconv.Atoi(q["year__GE"])
	end, _ := strconv.Atoi(q["year__LE"])
	if f.maxYears > 0 && end-start+1 > f.maxYears {
		return nil, errors.LimitExceeded("exceeds limit=50000")
	}
	var out []quickstats.Record
	for y := start; y <= end; y++ {
		out = append(out, quickstats.Record{"commodity_desc": commodity, "year": strconv.Itoa(y), "Value": float64(y)})
	}
	return out, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func job(key, commodity string, start, end int) catalog.Job {
	return catalog.Job{
		Dataset: &catalog.Dataset{
			Key:      key,
			Name:     key,
			Category: quickstats.Crops,
			Params:   quickstats.Query{"commodity_desc": commodity},
		},
		Range: catalog.YearRange{Start: start, End: end},
	}
}

func newTestRunner(t *testing.T, f Fetcher, store state.Store, cfg Config) (*Runner, *sink.Memory, *[]time.Duration) {
	t.Helper()
	out := sink.NewMemory()
	r := NewRunner(f, out, store, cfg, zaptest.NewLogger(t))
	var mu sync.Mutex
	delays := []time.Duration{}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, out, &delays
}

func TestRunWritesAndMarksJobs(t *testing.T) {
	f := &fakeFetcher{}
	store := state.NewMemoryStore()
	r, out, delays := newTestRunner(t, f, store, Config{JobDelay: time.Second})

	jobs := []catalog.Job{job("corn_yield", "CORN", 2000, 2002), job("oats_yield", "OATS", 2010, 2011)}
	summary, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Planned)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 5, summary.Records)

	batches := out.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "corn_yield", batches[0].Key)
	assert.Equal(t, "crops", batches[0].Category)
	assert.Equal(t, 2000, batches[0].YearStart)
	assert.Len(t, batches[0].Records, 3)

	completed, err := store.Completed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"corn_yield_2000_2002": true, "oats_yield_2010_2011": true}, completed)

	// pause between jobs, not after the last one
	assert.Equal(t, []time.Duration{time.Second}, *delays)
	assert.Equal(t, "CORN", f.queries[0]["commodity_desc"])
	assert.Equal(t, "SURVEY", f.queries[0]["source_desc"])
}

func TestRunSkipsCompletedJobs(t *testing.T) {
	f := &fakeFetcher{}
	store := state.NewMemoryStore("corn_yield_2000_2002")
	r, out, _ := newTestRunner(t, f, store, Config{})

	summary, err := r.Run(context.Background(), []catalog.Job{job("corn_yield", "CORN", 2000, 2002), job("oats_yield", "OATS", 2010, 2011)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, f.calls())
	assert.Len(t, out.Batches(), 1)

	// everything done now
	summary, err = r.Run(context.Background(), []catalog.Job{job("corn_yield", "CORN", 2000, 2002), job("oats_yield", "OATS", 2010, 2011)})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, f.calls())
}

func TestRunEmptyJobIsCompletedWithoutWrite(t *testing.T) {
	f := &fakeFetcher{empty: map[string]bool{"RYE": true}}
	store := state.NewMemoryStore()
	r, out, _ := newTestRunner(t, f, store, Config{})

	summary, err := r.Run(context.Background(), []catalog.Job{job("rye_yield", "RYE", 1950, 2025)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Empty)
	assert.Empty(t, out.Batches())

	completed, _ := store.Completed(context.Background())
	assert.True(t, completed["rye_yield_1950_2025"])
}

func TestRunBisectsOverLimit(t *testing.T) {
	f := &fakeFetcher{maxYears: 20}
	r, out, _ := newTestRunner(t, f, state.NewMemoryStore(), Config{})

	summary, err := r.Run(context.Background(), []catalog.Job{job("cattle_inventory", "CATTLE", 1950, 2025)})
	require.NoError(t, err)
	assert.Equal(t, 76, summary.Records)

	batches := out.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 1950, batches[0].YearStart)
	assert.Equal(t, 2025, batches[0].YearEnd)

	// records come back in year order across the halves
	years := make([]string, 0, len(batches[0].Records))
	for _, rec := range batches[0].Records {
		years = append(years, rec.String("year"))
	}
	assert.Equal(t, "1950", years[0])
	assert.Equal(t, "2025", years[len(years)-1])
	for i := 1; i < len(years); i++ {
		assert.Less(t, years[i-1], years[i])
	}
	// 1950-2025 -> 1950-1987 / 1988-2025 -> four ranges of 19 years
	assert.Equal(t, 7, f.calls())
}

func TestRunSingleYearOverLimitFails(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"HOGS": errors.LimitExceeded("exceeds limit=50000")}}
	store := state.NewMemoryStore()
	r, _, _ := newTestRunner(t, f, store, Config{})

	_, err := r.Run(context.Background(), []catalog.Job{job("hogs_inventory", "HOGS", 2020, 2021)})
	require.Error(t, err)
	assert.True(t, errors.IsLimitExceeded(err))
	assert.Contains(t, err.Error(), "hogs_inventory_2020_2021")
	// 2020-2021, then 2020 alone
	assert.Equal(t, 2, f.calls())

	completed, _ := store.Completed(context.Background())
	assert.Empty(t, completed)
}

func TestRunStopsOnFatalError(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"BARLEY": errors.Auth("invalid key")}}
	store := state.NewMemoryStore()
	r, out, _ := newTestRunner(t, f, store, Config{})

	jobs := []catalog.Job{
		job("corn_yield", "CORN", 2000, 2000),
		job("barley_yield", "BARLEY", 2000, 2000),
		job("oats_yield", "OATS", 2000, 2000),
	}
	summary, err := r.Run(context.Background(), jobs)
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, out.Batches(), 1)

	completed, _ := store.Completed(context.Background())
	assert.Equal(t, map[string]bool{"corn_yield_2000_2000": true}, completed)

	// a re-run resumes with the failed job
	f.fail = nil
	summary, err = r.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRunParallel(t *testing.T) {
	f := &fakeFetcher{}
	r, out, _ := newTestRunner(t, f, state.NewMemoryStore(), Config{MaxConcurrency: 4})

	var jobs []catalog.Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, job(fmt.Sprintf("ds_%d", i), fmt.Sprintf("C%d", i), 2000, 2004))
	}
	summary, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Succeeded)
	assert.Equal(t, 50, summary.Records)
	assert.Len(t, out.Batches(), 10)
}

func TestRunHonorsCancellation(t *testing.T) {
	f := &fakeFetcher{}
	r, out, _ := newTestRunner(t, f, state.NewMemoryStore(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, []catalog.Job{job("corn_yield", "CORN", 2000, 2001)})
	require.Error(t, err)
	assert.Empty(t, out.Batches())
}

func TestConfigFrom(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Performance.MaxConcurrency = 3
	assert.Equal(t, Config{MaxConcurrency: 3, JobDelay: time.Second}, ConfigFrom(cfg))
}
