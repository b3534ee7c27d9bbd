package retry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the class of a final failure.
type Kind int

const (
	// KindFailure is a generic failure of the labelled operation.
	KindFailure Kind = iota
	// KindInvalidCredential means the API key was rejected. Callers route to settings.
	KindInvalidCredential
	// KindOverloaded means the upstream service throttled the call.
	KindOverloaded
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindOverloaded:
		return "overloaded"
	default:
		return "failure"
	}
}

// Error is a classified failure surfaced after retries are exhausted.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

// Error implements the error interface. The message is what a user sees.
func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidCredential:
		return "Invalid API Key."
	case KindOverloaded:
		return "System overload. Retrying..."
	default:
		return fmt.Sprintf("%s failed.", e.Context)
	}
}

// Unwrap returns the raw cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidCredential:
		return http.StatusUnauthorized
	case KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Classify maps a raw error onto the taxonomy by matching its lowered
// message. An error that is already classified is returned unchanged.
func Classify(err error, label string) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "api key not valid"):
		return &Error{Kind: KindInvalidCredential, Context: label, Cause: err}
	case strings.Contains(msg, "429"):
		return &Error{Kind: KindOverloaded, Context: label, Cause: err}
	default:
		return &Error{Kind: KindFailure, Context: label, Cause: err}
	}
}

// IsInvalidCredential reports whether err classifies as a rejected credential.
func IsInvalidCredential(err error) bool {
	var classified *Error
	return errors.As(err, &classified) && classified.Kind == KindInvalidCredential
}
