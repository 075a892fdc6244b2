package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
)

type EventFilter struct {
	Status domain.EventStatus
	Limit  int
	Offset int
}

type EventRepository interface {
	Create(ctx context.Context, e *domain.Event) error
	Get(ctx context.Context, id string) (*domain.Event, error)
	// GetForUpdate reads the event holding an exclusive row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Event, error)
	// Update writes the admin-editable columns. The seat counter is left alone.
	Update(ctx context.Context, e *domain.Event) error
	SetRegisteredCount(ctx context.Context, id string, n int) error
	// SetStatus moves the event from one status to another and reports
	// whether a row changed. Cancelled events are never touched.
	SetStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error)
	List(ctx context.Context, f EventFilter) ([]domain.Event, error)
	// ListDue returns events whose stored status lags behind now: draft or
	// published events that have started, and ongoing events that have ended.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, r *domain.Registration) error
	Get(ctx context.Context, id string) (*domain.Registration, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Registration, error)
	GetByTicketCodeForUpdate(ctx context.Context, code string) (*domain.Registration, error)
	// FindActive returns the seat-occupying registration of a user on an event.
	FindActive(ctx context.Context, userID, eventID string) (*domain.Registration, error)
	Update(ctx context.Context, r *domain.Registration) error
	ListByUser(ctx context.Context, userID string) ([]domain.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error)
	CountActive(ctx context.Context, eventID string) (int, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, id string) (*domain.User, error)
}

// Repos groups the repositories bound to one handle: either a pool or an
// open transaction.
type Repos interface {
	Events() EventRepository
	Registrations() RegistrationRepository
	Users() UserRepository
}
