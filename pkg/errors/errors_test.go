package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		auth       bool
		rateLimit  bool
		transient  bool
		malformed  bool
		retryable  bool
		limitError bool
	}{
		{name: "auth", err: Auth("api key rejected"), auth: true},
		{name: "rate limit", err: RateLimited("slow down", 0), rateLimit: true, retryable: true},
		{name: "transient", err: Transient(io.ErrUnexpectedEOF, "read failed"), transient: true, retryable: true},
		{name: "connection", err: New(ErrorTypeConnection, "refused"), transient: true, retryable: true},
		{name: "malformed", err: Malformed(nil, "missing data array"), malformed: true},
		{name: "limit exceeded", err: LimitExceeded("exceeds limit=50000"), limitError: true},
		{name: "plain", err: stderrors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuth(tt.err))
			assert.Equal(t, tt.rateLimit, IsRateLimit(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.malformed, IsMalformed(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.limitError, IsLimitExceeded(tt.err))
		})
	}
}

func TestWrapPreservesDetailsAndStack(t *testing.T) {
	inner := RateLimited("429", 2*time.Second)
	outer := Wrap(inner, ErrorTypeRateLimit, "page 3")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)

	d, ok := RetryAfter(outer)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
	assert.True(t, stderrors.Is(outer, inner))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeData, "nothing"))
}

func TestLimitExceededThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("job corn_yield: %w", Wrap(LimitExceeded("too big"), ErrorTypeQuery, "fetch"))
	assert.True(t, IsLimitExceeded(err))
}

func TestErrorString(t *testing.T) {
	err := Wrap(io.EOF, ErrorTypeMalformed, "decoding body")
	assert.Equal(t, "malformed: decoding body: EOF", err.Error())
	assert.Equal(t, "authentication: missing key", Auth("missing key").Error())
}
