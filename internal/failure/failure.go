// Package failure classifies render and mux errors.
// Every error surfaced to a caller carries one Kind so the orchestrator can
// tell a capability problem from a timeout or bad input without string matching.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorises a failure.
type Kind string

const (
	// KindInternal is the default for unclassified errors.
	KindInternal Kind = "internal"
	// KindDegraded marks a problem that was absorbed (placeholder frame, reduced mix).
	KindDegraded Kind = "degraded"
	// KindCapability means the environment lacks an encoder or tool. Not retryable.
	KindCapability Kind = "capability"
	// KindTimeout means a source never became ready in time.
	KindTimeout Kind = "timeout"
	// KindInvalidInput covers empty timelines, zero durations and bad options.
	KindInvalidInput Kind = "invalid_input"
	// KindSanity means the produced output failed a post-flush check.
	KindSanity Kind = "sanity"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	// Op is the operation that failed (e.g. "mux.probe").
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches op and message to err. An existing Kind is preserved;
// otherwise kind is used.
func Wrap(err error, kind Kind, op, msg string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of the outermost classified error in the chain,
// or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
