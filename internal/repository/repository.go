package repository

import "errors"

// Sentinel errors translated from driver-level errors so services never
// import pgx directly.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a uniqueness guarantee.
	ErrDuplicate = errors.New("record already exists")
)
