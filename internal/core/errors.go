package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound signals that the requested record does not exist or is outside
// the caller's scope.
var ErrNotFound = errors.New("record not found")

// ErrQueueClosed is returned by a Queue after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// Kind classifies failures so callers can decide how to surface them.
type Kind string

// Failure kinds produced by the integration layer.
const (
	KindInvalidInput      Kind = "invalid_input"
	KindTransport         Kind = "transport"
	KindRemoteRejected    Kind = "remote_rejected"
	KindRemoteUnavailable Kind = "remote_unavailable"
	KindNotFound          Kind = "not_found"
	KindDecode            Kind = "decode"
	KindInternal          Kind = "internal"
)

// GenericRetryMessage is shown when the remote worker gave no usable message.
const GenericRetryMessage = "The service is temporarily unavailable. Please try again later."

// Error is the typed failure returned by services and the remote client.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "remote.execute".
	Op string
	// Message is the remote-supplied detail when present, else a description.
	Message string
	// StatusCode is the HTTP status of the final attempt, if any.
	StatusCode int
	// Attempts is the number of remote attempts made.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error of the given kind.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err for end users: the remote-supplied message when one
// exists, the validation text for bad input, else a generic retry-later text.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return GenericRetryMessage
	}
	switch e.Kind {
	case KindInvalidInput:
		return e.Message
	case KindNotFound:
		return "Not found."
	case KindRemoteRejected, KindRemoteUnavailable:
		if msg := remoteMessage(e); msg != "" {
			return msg
		}
	}
	return GenericRetryMessage
}

func remoteMessage(e *Error) string {
	for cur := e; cur != nil; {
		if cur.StatusCode != 0 && cur.Message != "" {
			return cur.Message
		}
		var next *Error
		if !errors.As(cur.Err, &next) {
			return ""
		}
		cur = next
	}
	return ""
}
