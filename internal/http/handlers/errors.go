// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give the UI a stable, machine-readable error taxonomy next to
// the human-readable message. Generic codes mirror HTTP status semantics;
// the rest name a client state the UI can act on (log in, open the room,
// confirm the deletion).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "confirmation_required",
//	  "message": "action not confirmed"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotLoggedIn     = "not_logged_in"
	ErrCodeLoginRejected   = "login_rejected"
	ErrCodeEmptyInput      = "empty_input"
	ErrCodeRoomNotOpen     = "room_not_open"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeNotConfirmed    = "confirmation_required"
	ErrCodeTooLarge        = "too_large"
	ErrCodeUpstream        = "upstream_failed"
)
