package database

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when inserting a key that already exists.
	ErrDuplicateID = errors.New("duplicate id")
)
