// Package services holds the client-side view logic: login, the grouped
// order view, per-room chat sessions, the shared unread-notification
// poller, and attachments.
//
// These errors are returned by service methods. Translation into
// user-facing messages or HTTP status codes happens in the handler layer.
package services

import "errors"

var (
	// ErrNotLoggedIn is returned when a feature runs without a session
	// token. It is treated as "not logged in yet", not as a failure.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrEmptyInput is returned for blank descriptions, message bodies or
	// credentials. No network call is made.
	ErrEmptyInput = errors.New("input is empty")

	// ErrNoRoom is returned when a chat session has no room id to join.
	ErrNoRoom = errors.New("no room id")

	// ErrRoomNotOpen is returned for operations on a room that is not
	// mounted (never opened, or already closed).
	ErrRoomNotOpen = errors.New("room is not open")

	// ErrNotConfirmed is returned when a destructive action was not
	// confirmed by the user.
	ErrNotConfirmed = errors.New("action not confirmed")

	// ErrMessageNotFound is returned when a message id is not in the room's list.
	ErrMessageNotFound = errors.New("message not found")

	// ErrLoginRejected is returned when the backend answers a login without
	// success or without a token.
	ErrLoginRejected = errors.New("login rejected")
)
