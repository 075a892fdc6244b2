package metrics

import (
	"errors"

	"github.com/kirinyoku/evreg/internal/domain"
)

// Outcome turns a workflow result into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTooYoung):
		return "too_young"
	case errors.Is(err, domain.ErrTooOld):
		return "too_old"
	case errors.Is(err, domain.ErrNotPublished):
		return "not_published"
	case errors.Is(err, domain.ErrFull):
		return "full"
	case errors.Is(err, domain.ErrRegistrationNotStarted):
		return "not_started"
	case errors.Is(err, domain.ErrRegistrationWindowClosed):
		return "window_closed"
	case errors.Is(err, domain.ErrEventAlreadyFinished):
		return "finished"
	case errors.Is(err, domain.ErrAlreadyCanceled):
		return "already_canceled"
	case errors.Is(err, domain.ErrAlreadyAttended):
		return "already_attended"
	case errors.Is(err, domain.ErrEventStarted):
		return "event_started"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrCheckInNotYetOpen):
		return "not_yet_open"
	case errors.Is(err, domain.ErrEventOver):
		return "event_over"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTransactionConflict):
		return "conflict"
	default:
		return "error"
	}
}
