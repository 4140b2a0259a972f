package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalNumbersKeepsIntegers(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, UnmarshalNumbers([]byte(`{"year": 2020, "Value": "1,234"}`), &v))

	n, ok := v["year"].(Number)
	require.True(t, ok)
	assert.Equal(t, "2020", n.String())
	assert.Equal(t, "1,234", v["Value"])
}

func TestStreamingEncoderArray(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, true)
	require.NoError(t, enc.Encode(map[string]int{"a": 1}))
	require.NoError(t, enc.Encode(map[string]string{"b": "<x>"}))
	require.NoError(t, enc.Close())

	var out []map[string]interface{}
	require.NoError(t, Unmarshal(buf.Bytes(), &out))
	assert.Len(t, out, 2)
	assert.Contains(t, buf.String(), "<x>", "HTML is not escaped")
}

func TestStreamingEncoderEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, true)
	require.NoError(t, enc.Close())
	assert.Equal(t, "[]", buf.String())
}

func TestStreamingEncoderLines(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamingEncoder(&buf, false)
	require.NoError(t, enc.Encode(map[string]int{"a": 1}))
	require.NoError(t, enc.Encode(map[string]int{"a": 2}))
	require.NoError(t, enc.Close())
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", buf.String())
}
