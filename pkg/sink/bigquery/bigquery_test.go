package bigquery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
)

type fakeInserter struct {
	puts [][]*Row
	err  error
}

func (f *fakeInserter) Put(ctx context.Context, src any) error {
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, src.([]*Row))
	return nil
}

func batch(n int) *sink.Batch {
	b := &sink.Batch{
		Key:       "hogs_inventory",
		Category:  "animals",
		YearStart: 2000,
		YearEnd:   2010,
		FetchedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("CDT", -5*3600)),
	}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, quickstats.Record{"state_name": "IOWA", "Value": float64(i)})
	}
	return b
}

func TestRowsSave(t *testing.T) {
	rows, err := Rows(batch(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	values, insertID, err := rows[1].Save()
	require.NoError(t, err)
	assert.Equal(t, "hogs_inventory", values["dataset"])
	assert.Equal(t, "animals", values["category"])
	assert.Equal(t, 2000, values["year_start"])
	assert.Equal(t, time.UTC, values["fetched_at"].(time.Time).Location())
	assert.JSONEq(t, `{"state_name":"IOWA","Value":1}`, values["record"].(string))

	_, firstID, _ := rows[0].Save()
	assert.NotEqual(t, firstID, insertID)
	assert.Contains(t, insertID, "hogs_inventory_2000_2010/")
}

func TestWriteChunksRows(t *testing.T) {
	ins := &fakeInserter{}
	s := NewWithInserter(config.OutputConfig{}, ins, zaptest.NewLogger(t))

	require.NoError(t, s.Write(context.Background(), batch(1200)))
	require.Len(t, ins.puts, 3)
	assert.Len(t, ins.puts[0], 500)
	assert.Len(t, ins.puts[2], 200)
	assert.Equal(t, "nass.nass_records", s.table)
	require.NoError(t, s.Close(context.Background()))
}

func TestWriteEmptyBatch(t *testing.T) {
	ins := &fakeInserter{}
	s := NewWithInserter(config.OutputConfig{Database: "raw", Table: "quickstats"}, ins, nil)

	require.NoError(t, s.Write(context.Background(), batch(0)))
	assert.Empty(t, ins.puts)
	assert.Equal(t, "raw.quickstats", s.table)
}

func TestWriteRejectedRows(t *testing.T) {
	ins := &fakeInserter{err: bigquery.PutMultiError{
		{InsertID: "a", RowIndex: 0, Errors: bigquery.MultiError{fmt.Errorf("invalid")}},
	}}
	s := NewWithInserter(config.OutputConfig{}, ins, zaptest.NewLogger(t))

	err := s.Write(context.Background(), batch(3))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "1 of 3 rows rejected")
}

func TestWriteConnectionFailure(t *testing.T) {
	ins := &fakeInserter{err: fmt.Errorf("connection reset")}
	s := NewWithInserter(config.OutputConfig{}, ins, zaptest.NewLogger(t))

	err := s.Write(context.Background(), batch(1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), config.OutputConfig{Type: "bigquery"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
