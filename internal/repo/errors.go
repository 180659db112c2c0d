package repo

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates that a receipt already exists for the
	// given (user_id, room_id, key) tuple.
	ErrDuplicate = errors.New("duplicate")
)
