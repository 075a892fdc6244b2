// Package notify delivers registration lifecycle messages to the outside
// world. Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
)

type Kind string

const (
	KindRegistered Kind = "registration.created"
	KindApproved   Kind = "registration.approved"
	KindCanceled   Kind = "registration.canceled"
	KindAttended   Kind = "registration.attended"
)

type Message struct {
	Kind           Kind      `json:"kind"`
	RegistrationID string    `json:"registration_id"`
	EventID        string    `json:"event_id"`
	EventTitle     string    `json:"event_title,omitempty"`
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	TicketCode     string    `json:"ticket_code,omitempty"`
	PriceCents     int64     `json:"price_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewMessage(kind Kind, reg *domain.Registration, ev *domain.Event, at time.Time) Message {
	m := Message{
		Kind:           kind,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		UserID:         reg.UserID,
		Status:         string(reg.Status),
		PriceCents:     reg.PriceCents,
		OccurredAt:     at,
	}
	if kind == KindRegistered || kind == KindApproved {
		m.TicketCode = reg.TicketCode
	}
	if ev != nil {
		m.EventTitle = ev.Title
	}
	return m
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
