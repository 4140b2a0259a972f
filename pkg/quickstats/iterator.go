package quickstats

import (
	"context"
	"fmt"
	"iter"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// IncompleteError reports that a fetch failed after some records had already been handed to
// the caller. Those records are a prefix of the result, not the result.
type IncompleteError struct {
	// Delivered is the number of records yielded before the failure
	Delivered int
	// Offset is the pagination offset of the page that failed
	Offset int
	Err    error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("fetch incomplete after %d records (page offset %d): %v", e.Delivered, e.Offset, e.Err)
}

func (e *IncompleteError) Unwrap() error {
	return e.Err
}

// Iterator walks the records of one query page by page. It is not safe for concurrent use
// and can be consumed only once.
type Iterator struct {
	ctx     context.Context
	fetcher *Fetcher
	raw     Query
	query   Query
	logger  *zap.Logger

	started   bool
	exhausted bool
	done      bool

	offset    int
	page      Page
	pos       int
	current   Record
	delivered int

	// fingerprint of the last full page, for detecting an ignored offset
	lastHash uint64
	haveLast bool

	err error
}

func newIterator(ctx context.Context, f *Fetcher, q Query) *Iterator {
	return &Iterator{
		ctx:     ctx,
		fetcher: f,
		raw:     q,
		logger:  f.logger,
	}
}

// Next advances to the next record, fetching the next page when the current one is used up.
// It returns false when the results are exhausted or an error occurred.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	if !it.started {
		it.started = true
		query, err := it.fetcher.prepare(it.raw)
		if err != nil {
			it.fail(err)
			return false
		}
		it.query = query
		it.logger = it.logger.With(zap.String("query", query.String()))
	}

	for it.pos >= len(it.page.Records) {
		if it.exhausted {
			it.finish()
			return false
		}
		if !it.nextPage() {
			return false
		}
	}

	it.current = it.page.Records[it.pos]
	it.pos++
	it.delivered++
	return true
}

// nextPage loads the page at the current offset and decides whether another follows.
func (it *Iterator) nextPage() bool {
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return false
	}

	f := it.fetcher
	records, data, err := f.fetchPage(it.ctx, it.query, it.offset)
	if err != nil {
		it.fail(err)
		return false
	}

	pageSize := f.api.PageSize
	if len(records) == pageSize {
		h := xxhash.Sum64(data)
		if it.haveLast && h == it.lastHash {
			it.logger.Warn("server returned the previous page again, stopping pagination",
				zap.Int("offset", it.offset))
			it.finish()
			return false
		}
		it.lastHash, it.haveLast = h, true
	}

	it.logger.Debug("fetched page",
		zap.Int("offset", it.offset),
		zap.Int("records", len(records)))

	it.page = Page{Offset: it.offset, Records: records}
	it.pos = 0
	it.offset += len(records)
	// a short or oversized page means the server has nothing further
	it.exhausted = len(records) != pageSize || !f.api.HasPaging()
	return true
}

func (it *Iterator) fail(err error) {
	if it.delivered > 0 {
		err = &IncompleteError{Delivered: it.delivered, Offset: it.offset, Err: err}
	}
	it.err = err
	it.finish()
}

func (it *Iterator) finish() {
	it.done = true
	it.current = nil
	it.page = Page{Offset: it.offset}
	it.pos = 0
}

// Record returns the current record. It is only valid after Next returned true.
func (it *Iterator) Record() Record {
	return it.current
}

// Page returns the page holding the current record.
func (it *Iterator) Page() Page {
	return it.page
}

// Delivered is the number of records yielded so far.
func (it *Iterator) Delivered() int {
	return it.delivered
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// All adapts the iterator to a range-over-func sequence. A failure is yielded last, with a
// nil record.
func (it *Iterator) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for it.Next() {
			if !yield(it.Record(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}
