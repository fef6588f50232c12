// Package status carries the typed error kinds surfaced by every
// modality entry point. A status error wraps an underlying cause so
// callers can branch on the kind while logs keep the full chain.
package status

import (
	"github.com/pkg/errors"
)

// Kind classifies an error surfaced by the engine.
type Kind int

const (
	// OK is the zero kind; it never appears on a non-nil error.
	OK Kind = iota
	// InvalidArgument: null required input, unknown format, unknown type.
	InvalidArgument
	// ParseFailed: malformed input in the declared wire format.
	ParseFailed
	// NotFound: update-mode write addressed a missing key.
	NotFound
	// Conflict: insert-mode write hit a present key, or a transaction
	// failed to commit.
	Conflict
	// OutOfMemory: an allocation failed.
	OutOfMemory
	// SubstrateError: the underlying key-value store failed; the cause
	// is passed through unchanged.
	SubstrateError
	// Unsupported: the operation cannot be implemented by this substrate.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid_argument"
	case ParseFailed:
		return "parse_failed"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case OutOfMemory:
		return "out_of_memory"
	case SubstrateError:
		return "substrate_error"
	case Unsupported:
		return "unsupported"
	}
	return "unknown"
}

type statusError struct {
	kind  Kind
	cause error
}

func (e *statusError) Error() string {
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *statusError) Unwrap() error { return e.cause }

// New returns an error of the given kind with a plain message.
func New(kind Kind, msg string) error {
	return &statusError{kind: kind, cause: errors.New(msg)}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &statusError{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap annotates err with a kind and a message. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &statusError{kind: kind, cause: errors.Wrap(err, msg)}
}

// KindOf extracts the kind from an error chain. Any non-nil error that
// never passed through this package reports SubstrateError; nil reports
// OK.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.kind
	}
	return SubstrateError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
