package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrSerialization marks a transaction aborted by a serialization
	// failure or deadlock. The whole unit of work may be retried.
	ErrSerialization = errors.New("serialization failure")
)
