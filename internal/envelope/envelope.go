// Package envelope normalizes tool results into the two shapes callers see:
// a success carrying the backend payload, or a failure record.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is either a success (Payload) or a failure (Message, Tool,
// Timestamp). Kind is the machine-readable failure class when known.
type Envelope struct {
	Success   bool
	Payload   any
	Message   string
	Tool      string
	Timestamp time.Time
	Kind      string
}

// failureBody is the wire form of a failure.
type failureBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Tool      string `json:"tool"`
	Timestamp string `json:"timestamp"`
}

// Success wraps a backend payload unchanged.
func Success(payload any) Envelope {
	return Envelope{Success: true, Payload: payload}
}

// Failure records err against tool, stamped with the current time.
func Failure(err error, tool string) Envelope {
	return FailureAt(err, tool, time.Now())
}

// FailureAt is Failure with an explicit timestamp.
func FailureAt(err error, tool string, at time.Time) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	kind := ""
	var k interface{ ErrorKind() string }
	if errors.As(err, &k) {
		kind = k.ErrorKind()
	}
	return Envelope{Message: msg, Tool: tool, Timestamp: at.UTC(), Kind: kind}
}

// IsError reports whether the envelope must be flagged as an error to the caller.
func (e Envelope) IsError() bool { return !e.Success }

// Text renders the envelope as the text content returned to the caller:
// the payload pretty-printed with two-space indentation for a success, the
// failure record otherwise.
func (e Envelope) Text() (string, error) {
	var v any = e.Payload
	if !e.Success {
		v = failureBody{
			Success:   false,
			Error:     e.Message,
			Tool:      e.Tool,
			Timestamp: e.Timestamp.UTC().Format(TimestampLayout),
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
