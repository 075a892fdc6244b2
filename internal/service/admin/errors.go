package admin

import (
	"errors"
)

var (
	ErrInvalidEvent            = errors.New("invalid event")
	ErrInvalidUser             = errors.New("invalid user")
	ErrCapacityBelowRegistered = errors.New("capacity below registered seats")
	ErrInvalidTransition       = errors.New("invalid event status transition")
	ErrConflict                = errors.New("already exists")
)
