package query

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/querysync/key"
)

// Sentinel errors for cache operations.
var (
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("query: client is closed")

	// ErrNilFetchFunc indicates a fetch was required but no fetch function
	// has been registered for the entry.
	ErrNilFetchFunc = errors.New("query: fetch function is nil")

	// ErrNilObserver indicates Subscribe was called without an observer.
	ErrNilObserver = errors.New("query: observer is nil")

	// ErrUnknownKey indicates no entry exists for the key.
	ErrUnknownKey = errors.New("query: unknown key")

	// ErrNilUpdater indicates SetData was called without an update function.
	ErrNilUpdater = errors.New("query: updater is nil")

	// ErrCancelled indicates an in-flight fetch was cancelled and its
	// result discarded. It is internal: cancellation never surfaces to
	// observers as a failure state.
	ErrCancelled = errors.New("query: fetch cancelled")
)

// FetchError wraps a fetch function failure after retries are exhausted.
type FetchError struct {
	Key key.Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("query: fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
