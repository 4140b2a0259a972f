package snowflake

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
)

func batch(n int) *sink.Batch {
	b := &sink.Batch{
		Key:       "soybean_production",
		Category:  "crops",
		YearStart: 2015,
		YearEnd:   2020,
		FetchedAt: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, quickstats.Record{"state_name": "OHIO", "Value": float64(i)})
	}
	return b
}

func newTestSink(t *testing.T, table string) (*Sink, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	want := table
	if want == "" {
		want = defaultTable
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + want + " (")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewWithDB(context.Background(), config.OutputConfig{Table: table}, db, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mock
}

func TestWriteReplacesJobRows(t *testing.T) {
	s, mock := newTestSink(t, "RAW.NASS.QUICKSTATS")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM RAW.NASS.QUICKSTATS WHERE dataset = ? AND year_start = ? AND year_end = ?")).
		WithArgs("soybean_production", 2015, 2020).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("PARSE_JSON(column6) FROM VALUES (?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?)")).
		WithArgs(
			"soybean_production", "crops", 2015, 2020, sqlmock.AnyArg(), `{"Value":0,"state_name":"OHIO"}`,
			"soybean_production", "crops", 2015, 2020, sqlmock.AnyArg(), `{"Value":1,"state_name":"OHIO"}`,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.Write(context.Background(), batch(2)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteChunksInserts(t *testing.T) {
	s, mock := newTestSink(t, "")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM NASS_RECORDS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO NASS_RECORDS").WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("INSERT INTO NASS_RECORDS").WillReturnResult(sqlmock.NewResult(0, 500))
	mock.ExpectCommit()

	require.NoError(t, s.Write(context.Background(), batch(1500)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newTestSink(t, "")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM NASS_RECORDS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO NASS_RECORDS").WillReturnError(fmt.Errorf("warehouse suspended"))
	mock.ExpectRollback()

	err := s.Write(context.Background(), batch(3))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSQL(t *testing.T) {
	q := insertSQL("T", 3)
	assert.True(t, strings.HasPrefix(q, "INSERT INTO T (dataset, category, year_start, year_end, fetched_at, record) SELECT"))
	assert.Equal(t, 18, strings.Count(q, "?"))
}

func TestConfigErrors(t *testing.T) {
	_, err := New(context.Background(), config.OutputConfig{Type: "snowflake"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewWithDB(context.Background(), config.OutputConfig{Table: "t; DROP TABLE x"}, db, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
