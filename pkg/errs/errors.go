// Package errs defines the classified error type shared by the cache, collector,
// history and client packages.
//
// Every error surfaced to callers carries a Kind. Fetch failures additionally
// carry a Class describing what went wrong on the wire, which drives retry
// decisions and metrics labels.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the caller-facing category of an error.
type Kind string

const (
	// KindConfiguration marks invalid or ambiguous query parameters.
	// Raised before any I/O.
	KindConfiguration Kind = "configuration"

	// KindTransient marks a fetch failure that may succeed when retried.
	KindTransient Kind = "transient"

	// KindFatal marks a fetch failure that aborts the current call.
	// Cache state committed before the failure stays valid.
	KindFatal Kind = "fatal"

	// KindSafetyLimit marks a query whose estimated size exceeds the
	// configured threshold without an explicit override.
	KindSafetyLimit Kind = "safety_limit"

	// KindCacheCorruption marks an unreadable on-disk artifact.
	KindCacheCorruption Kind = "cache_corruption"
)

// Class represents a classification of fetch errors.
type Class string

const (
	// ClassClient represents 4xx client errors other than 429.
	ClassClient Class = "client"

	// ClassServer represents 5xx server errors.
	ClassServer Class = "server"

	// ClassRateLimit represents 429 responses.
	ClassRateLimit Class = "rate_limit"

	// ClassNetwork represents network/timeout errors.
	ClassNetwork Class = "network"

	// ClassDecode represents a response body that could not be decoded.
	ClassDecode Class = "decode"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrFatal           = &Error{Kind: KindFatal}
	ErrSafetyLimit     = &Error{Kind: KindSafetyLimit}
	ErrCacheCorruption = &Error{Kind: KindCacheCorruption}
)

// Error is a classified error with additional context.
type Error struct {
	Kind       Kind
	Class      Class
	Op         string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Class != "" {
		msg += "/" + string(e.Class)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// Class set must match the class too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Class == "" || t.Class == e.Class
}

// Configuration returns a KindConfiguration error.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// SafetyLimit returns a KindSafetyLimit error carrying guidance for the caller.
func SafetyLimit(op, format string, args ...any) error {
	return &Error{Kind: KindSafetyLimit, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Transient returns a retryable fetch error of the given class.
func Transient(op string, class Class, status int, err error) error {
	return &Error{Kind: KindTransient, Class: class, Op: op, StatusCode: status, Err: err}
}

// Fatal wraps err as a KindFatal error. The class and status of a wrapped
// classified error are preserved.
func Fatal(op string, err error) error {
	fe := &Error{Kind: KindFatal, Op: op, Err: err}
	var ce *Error
	if errors.As(err, &ce) {
		fe.Class = ce.Class
		fe.StatusCode = ce.StatusCode
	}
	return fe
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err is not classified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// ClassOf returns the class of the first classified error in err's chain that
// has one.
func ClassOf(err error) Class {
	for err != nil {
		if ce, ok := err.(*Error); ok && ce.Class != "" {
			return ce.Class
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if KindOf(err) != KindTransient {
		return false
	}
	switch ClassOf(err) {
	case ClassServer, ClassRateLimit, ClassNetwork:
		return true
	default:
		// 4xx errors should NOT be retried (wastes the provider's patience)
		return false
	}
}
