package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = bytes.Repeat([]byte(`{"commodity_desc":"CORN","state_name":"IOWA","Value":"2,345,000"}`), 200)

func TestRoundTripAllAlgorithms(t *testing.T) {
	tests := []struct {
		algo Algorithm
		ext  string
	}{
		{None, ""},
		{Gzip, ".gz"},
		{Snappy, ".sz"},
		{LZ4, ".lz4"},
		{Zstd, ".zst"},
		{S2, ".s2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: tt.algo})
			require.NoError(t, err)
			assert.Equal(t, tt.algo, comp.Algorithm())
			assert.Equal(t, tt.ext, comp.Extension())

			compressed, err := comp.Compress(sample)
			require.NoError(t, err)
			if tt.algo != None {
				assert.Less(t, len(compressed), len(sample))
			}

			decompressed, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, sample, decompressed)

			var buf bytes.Buffer
			w, err := comp.NewWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(sample)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := comp.NewReader(&buf)
			require.NoError(t, err)
			streamed, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, sample, streamed)
		})
	}
}

func TestLevels(t *testing.T) {
	for _, level := range []Level{Fastest, Default, Better, Best} {
		for _, algo := range []Algorithm{Gzip, LZ4, Zstd} {
			t.Run(string(algo)+"/"+level.String(), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, level, comp.Level())

				compressed, err := comp.Compress(sample)
				require.NoError(t, err)
				decompressed, err := comp.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, sample, decompressed)
			})
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{
		"":      Gzip,
		"gz":    Gzip,
		"GZIP":  Gzip,
		"zst":   Zstd,
		"none":  None,
		" lz4 ": LZ4,
	}
	for in, want := range tests {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAlgorithm("brotli")
	assert.Error(t, err)
}

func TestNewByName(t *testing.T) {
	comp, err := New("zstd")
	require.NoError(t, err)
	assert.Equal(t, "zstd", comp.ContentEncoding())

	_, err = New("rar")
	assert.Error(t, err)
}

func TestDefaultConfigIsGzip(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, Gzip, comp.Algorithm())
	assert.Equal(t, "gzip", comp.ContentEncoding())
}
