package domain

import (
	"errors"
	"fmt"
)

// Sub-kinds wrap their parent so callers can match either level with errors.Is.
var (
	ErrNotFound = errors.New("not found")

	ErrAgeIneligible = errors.New("age ineligible")
	ErrTooYoung      = fmt.Errorf("%w: registrant is too young", ErrAgeIneligible)
	ErrTooOld        = fmt.Errorf("%w: registrant is too old", ErrAgeIneligible)

	ErrCapacityUnavailable      = errors.New("capacity unavailable")
	ErrNotPublished             = fmt.Errorf("%w: event is not published", ErrCapacityUnavailable)
	ErrFull                     = fmt.Errorf("%w: event is full", ErrCapacityUnavailable)
	ErrRegistrationNotStarted   = fmt.Errorf("%w: registration has not started", ErrCapacityUnavailable)
	ErrRegistrationWindowClosed = fmt.Errorf("%w: registration window is closed", ErrCapacityUnavailable)
	ErrEventAlreadyFinished     = fmt.Errorf("%w: event has already finished", ErrCapacityUnavailable)

	ErrAlreadyCanceled = errors.New("registration already canceled")
	ErrAlreadyAttended = errors.New("registration already attended")
	ErrNotPending      = errors.New("registration is not pending")
	ErrEventStarted    = errors.New("event has already started")

	ErrInvalidCode       = errors.New("invalid ticket code")
	ErrCheckInNotYetOpen = errors.New("check-in is not open yet")
	ErrEventOver         = errors.New("event is over")

	// ErrTransactionConflict is the only kind safe to retry automatically.
	ErrTransactionConflict = errors.New("transaction conflict")
)
