package engine

import "errors"

var (
	// ErrInvalidInput covers malformed creation/submission payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRefereeRequired is returned when stakes are set without a referee.
	ErrRefereeRequired = errors.New("a referee is required when stakes are set")
	// ErrOutOfRange is returned for a check-in dated outside the
	// commitment window.
	ErrOutOfRange = errors.New("check-in date outside commitment window")
	// ErrNotAuthorized is returned when the caller is not the designated
	// referee.
	ErrNotAuthorized = errors.New("not the designated referee")
)
