package domain

import "time"

// CheckAge reports whether age falls inside the event's age band.
func CheckAge(e *Event, age int) error {
	if age < e.MinAge {
		return ErrTooYoung
	}
	if e.MaxAge != nil && age > *e.MaxAge {
		return ErrTooOld
	}
	return nil
}

// CheckCapacity evaluates the registration gate against a freshly read
// event. The most specific refusal is returned, checked in this order:
// not published, finished, not started, window closed, full.
//
// Timing is always computed from the stored dates. The stored status is
// only consulted for the draft and cancelled states, which no clock
// reading can change.
func CheckCapacity(e *Event, now time.Time) error {
	if e.Status == EventDraft || e.Status == EventCancelled {
		return ErrNotPublished
	}
	if e.IsFinished(now) {
		return ErrEventAlreadyFinished
	}
	if e.RegistrationStart != nil && now.Before(*e.RegistrationStart) {
		return ErrRegistrationNotStarted
	}
	if e.RegistrationEnd != nil && now.After(*e.RegistrationEnd) {
		return ErrRegistrationWindowClosed
	}
	if e.HasStarted(now) {
		return ErrRegistrationWindowClosed
	}
	if e.AvailableSeats() <= 0 {
		return ErrFull
	}
	return nil
}

// CheckInWindow bounds when tickets may be scanned relative to the event dates.
type CheckInWindow struct {
	Enforced    bool
	OpensBefore time.Duration
	ClosesAfter time.Duration
}

func (w CheckInWindow) Check(e *Event, now time.Time) error {
	if !w.Enforced {
		return nil
	}
	if now.Before(e.StartDate.Add(-w.OpensBefore)) {
		return ErrCheckInNotYetOpen
	}
	if now.After(e.EndDate.Add(w.ClosesAfter)) {
		return ErrEventOver
	}
	return nil
}
