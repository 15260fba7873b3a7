package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness violation or a conditional write that lost a race.
	ErrConflict = errors.New("repository: conflict")
)
