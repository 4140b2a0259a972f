// Package sink defines where fetched batches go. Implementations live in sub-packages and
// register themselves by name; import them for their side effect:
//
//	import _ "github.com/nassdata/quickstats/pkg/sink/s3"
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nassdata/quickstats/pkg/quickstats"
)

// Batch is the complete result of one ingest job.
type Batch struct {
	Key         string
	Name        string
	Description string
	Category    string
	YearStart   int
	YearEnd     int
	FetchedAt   time.Time
	Records     []quickstats.Record
}

// BaseName is nass_{key}_{start}_{end}, the stem every sink uses for the batch.
func (b *Batch) BaseName() string {
	return fmt.Sprintf("nass_%s_%d_%d", b.Key, b.YearStart, b.YearEnd)
}

// JobKey is the state key of the job that produced the batch.
func (b *Batch) JobKey() string {
	return fmt.Sprintf("%s_%d_%d", b.Key, b.YearStart, b.YearEnd)
}

// Sink persists batches. Write must be all-or-nothing from the caller's point of view: a
// batch is either fully written or Write returns an error.
type Sink interface {
	Write(ctx context.Context, batch *Batch) error
	Close(ctx context.Context) error
}
