// Package errdefs defines the error kinds shared across the voxident
// service and the mapping from kinds to HTTP status codes.
//
// Every error that crosses a component boundary carries exactly one
// [Kind]. Components attach a kind with [E] or [Wrap]; the HTTP layer
// recovers it with [KindOf] and [HTTPStatus] to pick the response code.
// Errors without a kind are treated as [KindInternal]: the client sees a
// generic message and the full detail goes to the log.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport-level handling.
type Kind int

const (
	// KindInternal is an unexpected failure. Clients receive a generic
	// message; the underlying error is logged server-side.
	KindInternal Kind = iota

	// KindInvalidInput covers bad audio, missing fields and malformed
	// identifiers supplied by the caller.
	KindInvalidInput

	// KindInsufficientSpeech reports that a recording passed decoding but
	// failed a speech-quality gate (too little detected speech).
	KindInsufficientSpeech

	// KindNotFound reports an unknown speaker name, meeting or label.
	KindNotFound

	// KindBusy reports that the caller's device already has an
	// identification job in flight.
	KindBusy

	// KindProviderError reports a downstream provider failure.
	KindProviderError

	// KindProviderTimeout reports a downstream provider deadline.
	KindProviderTimeout
)

// String returns the kind's canonical name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInsufficientSpeech:
		return "insufficient_speech"
	case KindNotFound:
		return "not_found"
	case KindBusy:
		return "busy"
	case KindProviderError:
		return "provider_error"
	case KindProviderTimeout:
		return "provider_timeout"
	default:
		return "internal"
	}
}

// kindError is the concrete error type carrying a [Kind]. It is not
// exported; callers interact with it through errors.As via [KindOf].
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		if e.msg != "" {
			return e.msg + ": " + e.err.Error()
		}
		return e.err.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.err }

// E creates a new error of the given kind with a formatted message.
func E(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err, optionally prefixing a formatted message.
// Wrapping nil returns nil. The original error remains reachable through
// errors.Is and errors.As.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf returns the kind of err. The innermost attached kind wins when
// kinds are nested; errors without a kind report [KindInternal].
func KindOf(err error) Kind {
	kind := KindInternal
	for err != nil {
		var ke *kindError
		if !errors.As(err, &ke) {
			break
		}
		kind = ke.kind
		err = ke.err
	}
	return kind
}

// HTTPStatus maps a kind to its HTTP response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput, KindInsufficientSpeech:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusConflict
	case KindProviderError, KindProviderTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Internal errors
// collapse to a generic string so details never leak to clients.
func Message(err error) string {
	if KindOf(err) == KindInternal {
		return "internal server error"
	}
	return err.Error()
}
