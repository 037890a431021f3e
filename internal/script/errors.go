package script

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies why a script invocation failed.
type ErrorKind string

const (
	KindPathResolution  ErrorKind = "path_resolution"
	KindSpawn           ErrorKind = "spawn"
	KindTimeout         ErrorKind = "timeout"
	KindExit            ErrorKind = "exit"
	KindEmptyOutput     ErrorKind = "empty_output"
	KindMalformedOutput ErrorKind = "malformed_output"
	// KindCanceled is reported when the caller's context ends before the
	// script finishes, for example on shutdown.
	KindCanceled ErrorKind = "canceled"
)

// InvocationError is returned by Invoker.Invoke for every failure. It is
// never retried.
type InvocationError struct {
	Kind    ErrorKind
	Script  string
	Message string
	// Stderr is the trimmed stderr of the process, when one ran.
	Stderr  string
	Elapsed time.Duration
	Cause   error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	if e.Stderr != "" {
		sb.WriteString(" (stderr: ")
		sb.WriteString(e.Stderr)
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorKind returns the machine-readable kind as a string.
func (e *InvocationError) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// KindOf returns the kind of the first InvocationError in err's chain, or ""
// if there is none.
func KindOf(err error) ErrorKind {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind
	}
	return ""
}

func newError(kind ErrorKind, script, format string, args ...any) *InvocationError {
	return &InvocationError{Kind: kind, Script: script, Message: fmt.Sprintf(format, args...)}
}
