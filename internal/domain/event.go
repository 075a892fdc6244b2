package domain

import "time"

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventOngoing   EventStatus = "ongoing"
	EventFinished  EventStatus = "finished"
	EventCancelled EventStatus = "cancelled"
)

const DefaultMinAge = 13

func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPublished, EventOngoing, EventFinished, EventCancelled:
		return true
	}
	return false
}

// PriceTiers holds prices in minor currency units.
type PriceTiers struct {
	Base   int64
	Youth  *int64
	Senior *int64
}

type Event struct {
	ID          string
	Title       string
	Description string

	Capacity        int
	RegisteredCount int

	StartDate         time.Time
	EndDate           time.Time
	RegistrationStart *time.Time
	RegistrationEnd   *time.Time

	MinAge int
	MaxAge *int

	Prices PriceTiers

	Status           EventStatus
	RequiresApproval bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Event) AvailableSeats() int {
	if n := e.Capacity - e.RegisteredCount; n > 0 {
		return n
	}
	return 0
}

func (e *Event) IsFull() bool {
	return e.RegisteredCount >= e.Capacity
}

// HasStarted reports whether now is at or after the start date.
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartDate)
}

func (e *Event) IsOngoing(now time.Time) bool {
	return e.HasStarted(now) && now.Before(e.EndDate)
}

func (e *Event) IsFinished(now time.Time) bool {
	return !now.Before(e.EndDate)
}

// IsRegistrationOpen evaluates the capacity gate against now.
func (e *Event) IsRegistrationOpen(now time.Time) bool {
	return CheckCapacity(e, now) == nil
}

// DeriveStatus computes the status implied by the stored dates.
// Cancelled events are never moved.
func (e *Event) DeriveStatus(now time.Time) EventStatus {
	switch {
	case e.Status == EventCancelled:
		return EventCancelled
	case e.IsFinished(now):
		return EventFinished
	case e.HasStarted(now):
		return EventOngoing
	default:
		return e.Status
	}
}
