package httpgin

import (
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/service/admin"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type EventRequest struct {
	Title             string     `json:"title" binding:"required"`
	Description       string     `json:"description"`
	Capacity          int        `json:"capacity" binding:"required,gt=0"`
	StartDate         time.Time  `json:"start_date" binding:"required"`
	EndDate           time.Time  `json:"end_date" binding:"required"`
	RegistrationStart *time.Time `json:"registration_start"`
	RegistrationEnd   *time.Time `json:"registration_end"`
	MinAge            *int       `json:"min_age" binding:"omitempty,gte=0"`
	MaxAge            *int       `json:"max_age" binding:"omitempty,gte=0"`
	BasePriceCents    int64      `json:"base_price_cents" binding:"gte=0"`
	YouthPriceCents   *int64     `json:"youth_price_cents" binding:"omitempty,gte=0"`
	SeniorPriceCents  *int64     `json:"senior_price_cents" binding:"omitempty,gte=0"`
	RequiresApproval  bool       `json:"requires_approval"`
}

func (r EventRequest) input() admin.EventInput {
	return admin.EventInput{
		Title:             r.Title,
		Description:       r.Description,
		Capacity:          r.Capacity,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		RegistrationStart: r.RegistrationStart,
		RegistrationEnd:   r.RegistrationEnd,
		MinAge:            r.MinAge,
		MaxAge:            r.MaxAge,
		Prices: domain.PriceTiers{
			Base:   r.BasePriceCents,
			Youth:  r.YouthPriceCents,
			Senior: r.SeniorPriceCents,
		},
		RequiresApproval: r.RequiresApproval,
	}
}

type EventResponse struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Capacity          int        `json:"capacity"`
	RegisteredCount   int        `json:"registered_count"`
	AvailableSeats    int        `json:"available_seats"`
	StartDate         time.Time  `json:"start_date"`
	EndDate           time.Time  `json:"end_date"`
	RegistrationStart *time.Time `json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time `json:"registration_end,omitempty"`
	MinAge            int        `json:"min_age"`
	MaxAge            *int       `json:"max_age,omitempty"`
	BasePriceCents    int64      `json:"base_price_cents"`
	YouthPriceCents   *int64     `json:"youth_price_cents,omitempty"`
	SeniorPriceCents  *int64     `json:"senior_price_cents,omitempty"`
	Status            string     `json:"status"`
	RequiresApproval  bool       `json:"requires_approval"`
}

// toEventResponse reports the status implied by the dates, not the stored
// one, which may lag until the next sweep.
func toEventResponse(e *domain.Event, now time.Time) EventResponse {
	return EventResponse{
		ID:                e.ID,
		Title:             e.Title,
		Description:       e.Description,
		Capacity:          e.Capacity,
		RegisteredCount:   e.RegisteredCount,
		AvailableSeats:    e.AvailableSeats(),
		StartDate:         e.StartDate,
		EndDate:           e.EndDate,
		RegistrationStart: e.RegistrationStart,
		RegistrationEnd:   e.RegistrationEnd,
		MinAge:            e.MinAge,
		MaxAge:            e.MaxAge,
		BasePriceCents:    e.Prices.Base,
		YouthPriceCents:   e.Prices.Youth,
		SeniorPriceCents:  e.Prices.Senior,
		Status:            string(e.DeriveStatus(now)),
		RequiresApproval:  e.RequiresApproval,
	}
}

type AvailabilityResponse struct {
	EventID          string `json:"event_id"`
	Capacity         int    `json:"capacity"`
	Registered       int    `json:"registered"`
	Available        int    `json:"available"`
	IsFull           bool   `json:"is_full"`
	Status           string `json:"status"`
	RegistrationOpen bool   `json:"registration_open"`
}

func toAvailabilityResponse(a *domain.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		EventID:          a.EventID,
		Capacity:         a.Capacity,
		Registered:       a.Registered,
		Available:        a.Available,
		IsFull:           a.IsFull,
		Status:           string(a.Status),
		RegistrationOpen: a.RegistrationOpen,
	}
}

type RegistrationResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	EventID    string     `json:"event_id"`
	Status     string     `json:"status"`
	TicketCode string     `json:"ticket_code"`
	QRPayload  string     `json:"qr_payload,omitempty"`
	PriceCents int64      `json:"price_cents"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toRegistrationResponse(r *domain.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		EventID:    r.EventID,
		Status:     string(r.Status),
		TicketCode: r.TicketCode,
		PriceCents: r.PriceCents,
		AttendedAt: r.AttendedAt,
		CanceledAt: r.CanceledAt,
		CreatedAt:  r.CreatedAt,
	}
}

type RegisterResponse struct {
	Registration      RegistrationResponse `json:"registration"`
	AlreadyRegistered bool                 `json:"already_registered"`
}

type CheckInRequest struct {
	Code string `json:"code" binding:"required"`
}

type CheckInResponse struct {
	Registration RegistrationResponse `json:"registration"`
	EventTitle   string               `json:"event_title"`
}

type CreateUserRequest struct {
	Email     string `json:"email" binding:"required"`
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date" binding:"required"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
}

type ReconcileResponse struct {
	EventID    string `json:"event_id"`
	Capacity   int    `json:"capacity"`
	Stored     int    `json:"stored"`
	Actual     int    `json:"actual"`
	Consistent bool   `json:"consistent"`
}

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
