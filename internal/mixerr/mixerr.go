// Package mixerr defines the error kinds a mix request can fail with.
package mixerr

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure. Only KindTranscode is ever retried.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFetch      Kind = "fetch"
	KindTiming     Kind = "timing"
	KindTranscode  Kind = "transcode"
	KindStorage    Kind = "storage"
	KindInternal   Kind = "internal"
)

// Error carries the kind of failure plus an optional diagnostic (e.g. ffmpeg stderr tail).
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with a formatted cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithDetail attaches diagnostic text to a wrapped error.
func WithDetail(kind Kind, op string, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err, Detail: detail}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the diagnostic text attached to err, if any.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
