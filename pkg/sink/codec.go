package sink

import (
	"bytes"
	"encoding/csv"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/nassdata/quickstats/pkg/compression"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/pool"
	"github.com/nassdata/quickstats/pkg/quickstats"
)

// Format is a payload encoding for file-like sinks.
type Format string

const (
	// FormatJSON writes the batch envelope: metadata plus a "data" array
	FormatJSON Format = "json"
	// FormatJSONL writes one record per line
	FormatJSONL Format = "jsonl"
	// FormatCSV writes a header with the union of record fields, sorted
	FormatCSV Format = "csv"
)

// ParseFormat accepts json, jsonl (or ndjson) and csv. Empty means json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported output format %q", s)
	}
}

// ContentType is the MIME type of the uncompressed payload.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// envelope is the FormatJSON layout of a batch.
type envelope struct {
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Category    string              `json:"category,omitempty"`
	YearStart   int                 `json:"year_start"`
	YearEnd     int                 `json:"year_end"`
	FetchedAt   time.Time           `json:"fetched_at"`
	RecordCount int                 `json:"record_count"`
	Data        []quickstats.Record `json:"data"`
}

// EncodeBatch writes b to w. JSON output carries the batch metadata; JSONL and CSV carry
// only the records.
func EncodeBatch(w io.Writer, f Format, b *Batch) error {
	if f != FormatJSON {
		return EncodeRecords(w, f, b.Records)
	}
	data := b.Records
	if data == nil {
		data = []quickstats.Record{}
	}
	env := envelope{
		Key:         b.Key,
		Name:        b.Name,
		Description: b.Description,
		Category:    b.Category,
		YearStart:   b.YearStart,
		YearEnd:     b.YearEnd,
		FetchedAt:   b.FetchedAt.UTC(),
		RecordCount: len(b.Records),
		Data:        data,
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encoding batch")
	}
	return nil
}

// EncodeRecords writes bare records: a JSON array, JSON lines, or CSV.
func EncodeRecords(w io.Writer, f Format, records []quickstats.Record) error {
	switch f {
	case FormatCSV:
		return encodeCSV(w, records)
	case FormatJSON, FormatJSONL:
		enc := json.NewStreamingEncoder(w, f == FormatJSON)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "encoding record")
			}
		}
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "encoding records")
		}
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported output format %q", f)
	}
}

// Columns returns the sorted union of the records' fields.
func Columns(records []quickstats.Record) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func encodeCSV(w io.Writer, records []quickstats.Record) error {
	cw := csv.NewWriter(w)
	cols := Columns(records)
	if err := cw.Write(cols); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "writing csv header")
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			row[i] = r.String(c)
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "writing csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "writing csv")
	}
	return nil
}

// Codec combines a payload format with a compression algorithm. File, S3 and GCS sinks
// share it so the same batch produces the same object everywhere.
type Codec struct {
	format     Format
	compressor compression.Compressor
}

// NewCodec builds a codec from configuration names.
func NewCodec(format, algorithm string) (*Codec, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	comp, err := compression.New(algorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "output compression")
	}
	return &Codec{format: f, compressor: comp}, nil
}

// Format is the payload format.
func (c *Codec) Format() Format {
	return c.format
}

// ObjectName is the file or object name for b, e.g. nass_corn_yield_1950_2025.json.gz.
func (c *Codec) ObjectName(b *Batch) string {
	return b.BaseName() + "." + string(c.format) + c.compressor.Extension()
}

// ContentType is the MIME type of the uncompressed payload.
func (c *Codec) ContentType() string {
	return c.format.ContentType()
}

// ContentEncoding is the HTTP Content-Encoding for object stores, or "" when the codec has
// no registered encoding name.
func (c *Codec) ContentEncoding() string {
	return c.compressor.ContentEncoding()
}

// Encode writes b to w, compressed.
func (c *Codec) Encode(w io.Writer, b *Batch) error {
	cw, err := c.compressor.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "creating compressor")
	}
	if err := EncodeBatch(cw, c.format, b); err != nil {
		_ = cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "flushing compressed output")
	}
	return nil
}

// Bytes encodes b into memory.
func (c *Codec) Bytes(b *Batch) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := c.Encode(buf, b); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Decode reverses Encode for the JSON envelope format. It is used to read back raw output.
func (c *Codec) Decode(r io.Reader) (*Batch, error) {
	if c.format != FormatJSON {
		return nil, errors.Newf(errors.ErrorTypeConfig, "cannot decode %s output into a batch", c.format)
	}
	rc, err := c.compressor.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "opening compressed input")
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "reading compressed input")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decoding batch")
	}
	return &Batch{
		Key:         env.Key,
		Name:        env.Name,
		Description: env.Description,
		Category:    env.Category,
		YearStart:   env.YearStart,
		YearEnd:     env.YearEnd,
		FetchedAt:   env.FetchedAt,
		Records:     env.Data,
	}, nil
}
