package errors_test

import (
	"fmt"
	"io"
	"time"

	"github.com/nassdata/quickstats/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeQuery, "bad request - invalid query").
		WithDetail("commodity_desc", "CORN").
		WithDetail(errors.DetailStatusCode, 400)

	fmt.Println(err.Error())

	// Output:
	// query: bad request - invalid query
}

// ExampleWrap shows how to wrap a transport error.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeTransient, "reading response body")

	fmt.Println(errors.IsTransient(err))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true
	// true
}

// ExampleRetryAfter shows how a rate limit error carries the server's delay.
func ExampleRetryAfter() {
	err := errors.RateLimited("too many requests", 3*time.Second)

	if d, ok := errors.RetryAfter(err); ok {
		fmt.Printf("retryable=%v after %s\n", errors.IsRetryable(err), d)
	}

	// Output:
	// retryable=true after 3s
}
