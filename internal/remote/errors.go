package remote

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by remote operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, remote.ErrOffline) {
//	    // the call was never attempted
//	}
var (
	// ErrOffline is returned by the invoker when the connectivity monitor
	// reports OFFLINE. No network call was made.
	ErrOffline = errors.New("system offline")

	// ErrTableNotFound is returned when a table handle does not resolve.
	ErrTableNotFound = errors.New("table not found")

	// ErrHeaderNotFound is returned when a required header such as ID is
	// missing from a table.
	ErrHeaderNotFound = errors.New("header not found")

	// ErrColumnNotFound is returned when a date column is missing from
	// the master table.
	ErrColumnNotFound = errors.New("column not found")

	// ErrRowNotFound is returned when an identifier has no row.
	ErrRowNotFound = errors.New("row not found")

	// ErrUnreachable is returned by backends when the remote endpoint
	// cannot be contacted.
	ErrUnreachable = errors.New("remote unreachable")
)

// ErrorKind classifies a remote failure for retry purposes.
type ErrorKind int

const (
	// KindFatal errors are neither retried nor counted against the breaker.
	KindFatal ErrorKind = iota

	// KindTransient errors are network or quota faults worth retrying.
	KindTransient

	// KindSchema errors mean an expected table, header, column or row is
	// missing. The operation is abandoned and left for replay.
	KindSchema
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSchema:
		return "schema"
	default:
		return "fatal"
	}
}

// Error is a classified remote failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Schema wraps err as a missing-structure failure of op.
func Schema(op string, err error) error {
	return &Error{Kind: KindSchema, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable failure of op.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are fatal,
// except the schema sentinels and ErrUnreachable which classify themselves.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrTableNotFound),
		errors.Is(err, ErrHeaderNotFound),
		errors.Is(err, ErrColumnNotFound),
		errors.Is(err, ErrRowNotFound):
		return KindSchema
	}
	return KindFatal
}

// IsTransient returns true if the error is likely to succeed on retry.
func IsTransient(err error) bool {
	if err == nil || IsOffline(err) {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsSchema returns true if the error reports missing remote structure.
func IsSchema(err error) bool {
	if err == nil || IsOffline(err) {
		return false
	}
	return KindOf(err) == KindSchema
}

// IsFatal returns true if the error is neither transient, schema, nor the
// offline fail-fast.
func IsFatal(err error) bool {
	if err == nil || IsOffline(err) {
		return false
	}
	return KindOf(err) == KindFatal
}

// IsOffline returns true if the call was refused because the system is
// offline.
func IsOffline(err error) bool {
	return errors.Is(err, ErrOffline)
}

// IsCanceled returns true if the call was cut short by its caller. A
// cancellation is never evidence of lost connectivity.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
