// Package errcode classifies the failures this remote can encounter into a
// small, closed set of kinds and carries enough detail (an HTTP status code,
// a human message, and the underlying cause) to let callers decide how to
// respond to the host without re-inspecting transport internals.
package errcode

import "fmt"

// Kind is one of the seven error categories the remote distinguishes.
// Unlike the teacher's open registry of named codes (ErrorCodeDigestInvalid,
// ErrorCodeManifestUnknown, ...), this is a fixed, closed enum: the remote
// only ever needs to tell these seven things apart, never to mint new ones
// at runtime.
type Kind int

const (
	// Unknown is the zero value; it should not appear in constructed errors.
	Unknown Kind = iota

	// Validation covers malformed input discovered before any network call:
	// a missing url/doi configuration value, an unparsable DOI.
	Validation

	// Auth covers HTTP 401/403 responses from Dataverse.
	Auth

	// DatasetNotFound covers HTTP 404 on the configured DOI at PREPARE time.
	DatasetNotFound

	// Transport covers any other HTTP error, and network/DNS failures.
	Transport

	// DuplicateContent covers the "duplicate content" 4xx response Dataverse
	// returns on upload/replace when the same bytes already exist.
	DuplicateContent

	// NotRenameable covers a rename whose id could not be resolved.
	NotRenameable

	// Unavailable covers a lookup that found no id and no path match.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "Validation"
	case Auth:
		return "Auth"
	case DatasetNotFound:
		return "DatasetNotFound"
	case Transport:
		return "Transport"
	case DuplicateContent:
		return "DuplicateContent"
	case NotRenameable:
		return "NotRenameable"
	case Unavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by dataverseapi, dvdataset, and
// config. HTTPStatusCode is 0 when the error did not originate from an HTTP
// response (e.g. Validation, NotRenameable).
type Error struct {
	Kind           Kind
	Message        string
	HTTPStatusCode int
	Cause          error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no HTTP status and no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf builds an Error with a formatted message and an underlying cause.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithStatus attaches an HTTP status code and returns the same Error for
// chaining at the construction site.
func (e *Error) WithStatus(code int) *Error {
	e.HTTPStatusCode = code
	return e
}

// Is reports whether err is an *Error of the given Kind. It follows the
// standard unwrap chain, so a Transport error wrapped by an outer caller
// still classifies correctly.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return Unknown, false
		}
		err = u.Unwrap()
	}
	return Unknown, false
}
