package domain

import "time"

type User struct {
	ID        string
	Email     string
	FullName  string
	BirthDate time.Time
	CreatedAt time.Time
}

// Availability is the read model served to clients polling for seats.
type Availability struct {
	EventID          string
	Capacity         int
	Registered       int
	Available        int
	IsFull           bool
	Status           EventStatus
	RegistrationOpen bool
}

func NewAvailability(e *Event, now time.Time) Availability {
	return Availability{
		EventID:          e.ID,
		Capacity:         e.Capacity,
		Registered:       e.RegisteredCount,
		Available:        e.AvailableSeats(),
		IsFull:           e.IsFull(),
		Status:           e.DeriveStatus(now),
		RegistrationOpen: e.IsRegistrationOpen(now),
	}
}

// Clock is read once per workflow invocation.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
