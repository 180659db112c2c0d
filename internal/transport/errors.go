// Package transport talks to the order/chat backend over its two channels:
// a bearer-authenticated JSON request/response API and a persistent
// websocket carrying room, message and presence events.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoToken is returned by authenticated calls when the session has no
	// bearer token. No network call is made.
	ErrNoToken = errors.New("no bearer token")

	// ErrBadPayload reports a response body that does not match the
	// expected shape. Callers fall back to an empty value.
	ErrBadPayload = errors.New("unexpected response payload")

	// ErrSocketClosed is returned when emitting on a socket that has been
	// closed or has given up reconnecting.
	ErrSocketClosed = errors.New("realtime channel closed")
)

// APIError is a non-2xx response from the backend. Message carries the
// backend-provided text ("message" or "error" field) when there is one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// MessageOf returns the backend-provided message carried by err, or
// fallback when err has none.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
