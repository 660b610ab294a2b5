package kpnc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
)

var (
	// ErrEmptyBody is returned when a successful response carries no payload.
	ErrEmptyBody = errors.New("response body is empty")

	// ErrAccountInvalid is returned when the server reports the account as not valid.
	ErrAccountInvalid = errors.New("account is not valid")

	// ErrMissingIdentifier is returned when no account id was supplied or stored.
	ErrMissingIdentifier = errors.New("account id is not set")

	// ErrInvalidIdentifier is returned when an account id fails IsAccountIDValid.
	ErrInvalidIdentifier = errors.New("account id is not valid")

	// ErrUnsupported is returned for unknown external actions.
	ErrUnsupported = errors.New("unsupported action")

	// ErrEmptyToken is returned when asked to register an empty token.
	ErrEmptyToken = errors.New("registration token is empty")
)

// APIError represents a non-2xx HTTP response from the KPNC server.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
	Method     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Status, e.Body)
}

// TransportError wraps a failure to complete an HTTP exchange (dial, TLS,
// timeout, reading the body).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a payload cannot be decoded.
type MalformedResponseError struct {
	What string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ServerError carries the error string of a {data, error} response wrapper.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Kind returns a short class-name-style label for err.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	var transportErr *TransportError
	var malformedErr *MalformedResponseError
	var serverErr *ServerError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.As(err, &apiErr):
		return "BadStatus"
	case errors.Is(err, ErrEmptyBody):
		return "EmptyBody"
	case errors.As(err, &malformedErr):
		return "MalformedResponse"
	case errors.Is(err, ErrAccountInvalid):
		return "AccountInvalid"
	case errors.Is(err, ErrMissingIdentifier):
		return "MissingIdentifier"
	case errors.Is(err, ErrInvalidIdentifier):
		return "InvalidIdentifier"
	case errors.Is(err, ErrUnsupported):
		return "Unsupported"
	case errors.Is(err, ErrEmptyToken):
		return "EmptyToken"
	case errors.As(err, &serverErr):
		return "ServerError"
	case errors.As(err, &transportErr):
		return "TransportFailure"
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return "Error"
}

// UserMessage renders err as a short human-readable message. It prefers the
// error text and falls back to Kind when the text is blank.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) && strings.TrimSpace(serverErr.Message) != "" {
		return serverErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	if cause := errors.Unwrap(err); cause != nil {
		if msg := strings.TrimSpace(cause.Error()); msg != "" {
			return msg
		}
	}
	return Kind(err)
}

// IsImportant reports whether err deserves a full log line. Timeouts,
// cancellations, bad statuses and empty bodies are routine.
func IsImportant(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, ErrEmptyBody) {
		return false
	}
	return true
}

// LogValue returns the full error text for important errors and only the
// Kind label for routine ones.
func LogValue(err error) string {
	if err == nil {
		return ""
	}
	if !IsImportant(err) {
		return Kind(err)
	}
	kind := Kind(err)
	msg := err.Error()
	if strings.Contains(msg, kind) {
		return msg
	}
	return kind + ": " + msg
}
