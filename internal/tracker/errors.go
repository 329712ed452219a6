package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned by stores when a listing does not exist.
var ErrNotFound = errors.New("listing not found")

// FailureKind classifies why a fetch failed.
type FailureKind string

// Fetch failure kinds.
const (
	FailureTimeout   FailureKind = "timeout"
	FailureStatus    FailureKind = "status"
	FailureRender    FailureKind = "render"
	FailureTransport FailureKind = "transport"
	FailureCanceled  FailureKind = "canceled"
)

// FetchError is the typed failure returned by fetchers. A FetchError only ever
// concerns the one URL it names.
type FetchError struct {
	URL        string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FailureStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err for url, deriving the failure kind from the error chain.
// fallback is used when the chain carries no recognizable cause.
func NewFetchError(url string, fallback FailureKind, err error) *FetchError {
	return &FetchError{URL: url, Kind: classifyFetchErr(err, fallback), Err: err}
}

// StatusError reports a non-success response for url.
func StatusError(url string, code int) *FetchError {
	return &FetchError{
		URL:        url,
		Kind:       FailureStatus,
		StatusCode: code,
		Err:        fmt.Errorf("unexpected status %d", code),
	}
}

func classifyFetchErr(err error, fallback FailureKind) FailureKind {
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return fallback
}
