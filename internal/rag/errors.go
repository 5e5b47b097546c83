package rag

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the pipeline wraps exactly one of these,
// so the API boundary can decide between surfacing, retrying and status codes.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrExternalUnavailable = errors.New("external capability unavailable")
	ErrNotFound            = errors.New("not found")
	ErrCorrupted           = errors.New("corrupted data")
	ErrTimeout             = errors.New("timeout")
)

var (
	ErrUnsupportedFormat     = fmt.Errorf("%w: unsupported document format", ErrInvalidInput)
	ErrInvalidChunkConfig    = fmt.Errorf("%w: invalid chunk config", ErrInvalidInput)
	ErrInvalidQuery          = fmt.Errorf("%w: invalid query", ErrInvalidInput)
	ErrEmptyIndex            = fmt.Errorf("%w: index has no chunks", ErrInvalidInput)
	ErrDimensionMismatch     = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidInput)
	ErrExtractionFailed      = fmt.Errorf("%w: text extraction failed", ErrCorrupted)
	ErrEmbeddingUnavailable  = fmt.Errorf("%w: embedding", ErrExternalUnavailable)
	ErrGenerationUnavailable = fmt.Errorf("%w: generation", ErrExternalUnavailable)
	ErrSessionNotFound       = fmt.Errorf("%w: session", ErrNotFound)
)

// Kind returns the kind sentinel wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrTimeout, ErrInvalidInput, ErrExternalUnavailable, ErrNotFound, ErrCorrupted} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Retryable reports whether the caller of the core may retry err with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalUnavailable) && !errors.Is(err, ErrTimeout)
}
