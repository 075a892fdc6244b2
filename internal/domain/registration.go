package domain

import "time"

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationAttended  RegistrationStatus = "attended"
	RegistrationCanceled  RegistrationStatus = "canceled"
)

// SeatStatuses are the statuses that occupy a seat on the event.
var SeatStatuses = []RegistrationStatus{
	RegistrationPending,
	RegistrationConfirmed,
	RegistrationAttended,
}

func (s RegistrationStatus) OccupiesSeat() bool {
	return s == RegistrationPending || s == RegistrationConfirmed || s == RegistrationAttended
}

func (s RegistrationStatus) Terminal() bool {
	return s == RegistrationAttended || s == RegistrationCanceled
}

func InitialStatus(requiresApproval bool) RegistrationStatus {
	if requiresApproval {
		return RegistrationPending
	}
	return RegistrationConfirmed
}

type Registration struct {
	ID         string
	UserID     string
	EventID    string
	Status     RegistrationStatus
	TicketCode string
	PriceCents int64
	AttendedAt *time.Time
	CanceledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Registration) terminalErr() error {
	switch r.Status {
	case RegistrationCanceled:
		return ErrAlreadyCanceled
	case RegistrationAttended:
		return ErrAlreadyAttended
	}
	return nil
}

// Cancel moves a pending or confirmed registration to canceled.
// The caller owns the seat release.
func (r *Registration) Cancel(now time.Time) error {
	if err := r.terminalErr(); err != nil {
		return err
	}
	r.Status = RegistrationCanceled
	r.CanceledAt = &now
	r.UpdatedAt = now
	return nil
}

// Attend records presence. AttendedAt is never overwritten.
func (r *Registration) Attend(now time.Time) error {
	if err := r.terminalErr(); err != nil {
		return err
	}
	r.Status = RegistrationAttended
	r.AttendedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *Registration) Approve(now time.Time) error {
	if err := r.terminalErr(); err != nil {
		return err
	}
	if r.Status != RegistrationPending {
		return ErrNotPending
	}
	r.Status = RegistrationConfirmed
	r.UpdatedAt = now
	return nil
}
