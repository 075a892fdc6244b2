package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func publishedEvent() *Event {
	return &Event{
		ID:        "e1",
		Capacity:  10,
		StartDate: testNow.Add(48 * time.Hour),
		EndDate:   testNow.Add(52 * time.Hour),
		MinAge:    DefaultMinAge,
		Prices:    PriceTiers{Base: 1000},
		Status:    EventPublished,
	}
}

func TestResolvePrice(t *testing.T) {
	tiers := PriceTiers{Base: 1000, Youth: ptr(int64(500)), Senior: ptr(int64(300))}

	tests := []struct {
		name  string
		tiers PriceTiers
		age   int
		want  int64
	}{
		{"youth", tiers, 20, 500},
		{"senior", tiers, 65, 300},
		{"base only", PriceTiers{Base: 1000}, 40, 1000},
		{"adult with tiers", tiers, 40, 1000},
		{"youth boundary", tiers, 26, 1000},
		{"senior boundary", tiers, 60, 300},
		{"senior tier missing", PriceTiers{Base: 1000, Youth: ptr(int64(500))}, 70, 1000},
		{"youth tier missing", PriceTiers{Base: 1000, Senior: ptr(int64(300))}, 18, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePrice(tt.tiers, tt.age))
		})
	}
}

func TestAgeAt(t *testing.T) {
	birth := time.Date(2008, 5, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 17, AgeAt(birth, testNow))
	assert.Equal(t, 18, AgeAt(birth, testNow.Add(24*time.Hour)))
	assert.Equal(t, 0, AgeAt(testNow.Add(time.Hour*24*400), testNow))
}

func TestCheckAge(t *testing.T) {
	e := publishedEvent()
	e.MinAge = 18
	e.MaxAge = ptr(30)

	assert.ErrorIs(t, CheckAge(e, 16), ErrTooYoung)
	assert.ErrorIs(t, CheckAge(e, 16), ErrAgeIneligible)
	assert.ErrorIs(t, CheckAge(e, 31), ErrTooOld)
	assert.ErrorIs(t, CheckAge(e, 31), ErrAgeIneligible)
	assert.NoError(t, CheckAge(e, 18))
	assert.NoError(t, CheckAge(e, 30))
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Event)
		want   error
	}{
		{"open", func(e *Event) {}, nil},
		{"draft", func(e *Event) { e.Status = EventDraft }, ErrNotPublished},
		{"cancelled", func(e *Event) { e.Status = EventCancelled }, ErrNotPublished},
		{"full", func(e *Event) { e.RegisteredCount = 10 }, ErrFull},
		{"not started", func(e *Event) { e.RegistrationStart = ptr(testNow.Add(time.Hour)) }, ErrRegistrationNotStarted},
		{"window closed", func(e *Event) { e.RegistrationEnd = ptr(testNow.Add(-time.Hour)) }, ErrRegistrationWindowClosed},
		{"window bounds inclusive", func(e *Event) {
			e.RegistrationStart = ptr(testNow)
			e.RegistrationEnd = ptr(testNow)
		}, nil},
		{"event started", func(e *Event) {
			e.StartDate = testNow
			e.EndDate = testNow.Add(time.Hour)
		}, ErrRegistrationWindowClosed},
		{"finished", func(e *Event) {
			e.StartDate = testNow.Add(-2 * time.Hour)
			e.EndDate = testNow.Add(-time.Hour)
		}, ErrEventAlreadyFinished},
		{"finished beats full", func(e *Event) {
			e.StartDate = testNow.Add(-2 * time.Hour)
			e.EndDate = testNow.Add(-time.Hour)
			e.RegisteredCount = 10
		}, ErrEventAlreadyFinished},
		{"stale ongoing status still checks dates", func(e *Event) { e.Status = EventOngoing }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := publishedEvent()
			tt.mutate(e)

			err := CheckCapacity(e, testNow)
			if tt.want == nil {
				require.NoError(t, err)
				assert.True(t, e.IsRegistrationOpen(testNow))
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrCapacityUnavailable)
			assert.False(t, e.IsRegistrationOpen(testNow))
		})
	}
}

func TestEventPredicates(t *testing.T) {
	e := publishedEvent()
	e.RegisteredCount = 12

	assert.Equal(t, 0, e.AvailableSeats())
	assert.True(t, e.IsFull())

	assert.False(t, e.IsOngoing(testNow))
	assert.True(t, e.IsOngoing(e.StartDate))
	assert.False(t, e.IsFinished(e.StartDate))
	assert.True(t, e.IsFinished(e.EndDate))
}

func TestDeriveStatus(t *testing.T) {
	e := publishedEvent()

	assert.Equal(t, EventPublished, e.DeriveStatus(testNow))
	assert.Equal(t, EventOngoing, e.DeriveStatus(e.StartDate))
	assert.Equal(t, EventFinished, e.DeriveStatus(e.EndDate))

	e.Status = EventDraft
	assert.Equal(t, EventDraft, e.DeriveStatus(testNow))
	assert.Equal(t, EventOngoing, e.DeriveStatus(e.StartDate))

	e.Status = EventCancelled
	assert.Equal(t, EventCancelled, e.DeriveStatus(e.EndDate))
}

func TestRegistrationLifecycle(t *testing.T) {
	t.Run("initial status", func(t *testing.T) {
		assert.Equal(t, RegistrationPending, InitialStatus(true))
		assert.Equal(t, RegistrationConfirmed, InitialStatus(false))
	})

	t.Run("attend is terminal", func(t *testing.T) {
		r := &Registration{Status: RegistrationConfirmed}
		require.NoError(t, r.Attend(testNow))
		require.NotNil(t, r.AttendedAt)

		err := r.Attend(testNow.Add(time.Minute))
		assert.ErrorIs(t, err, ErrAlreadyAttended)
		assert.Equal(t, testNow, *r.AttendedAt)

		assert.ErrorIs(t, r.Cancel(testNow), ErrAlreadyAttended)
		assert.Equal(t, RegistrationAttended, r.Status)
	})

	t.Run("cancel is terminal", func(t *testing.T) {
		r := &Registration{Status: RegistrationPending}
		require.NoError(t, r.Cancel(testNow))
		assert.False(t, r.Status.OccupiesSeat())

		assert.ErrorIs(t, r.Cancel(testNow), ErrAlreadyCanceled)
		assert.ErrorIs(t, r.Attend(testNow), ErrAlreadyCanceled)
		assert.Nil(t, r.AttendedAt)
	})

	t.Run("approve", func(t *testing.T) {
		r := &Registration{Status: RegistrationPending}
		require.NoError(t, r.Approve(testNow))
		assert.Equal(t, RegistrationConfirmed, r.Status)
		assert.ErrorIs(t, r.Approve(testNow), ErrNotPending)
	})
}

func TestCheckInWindow(t *testing.T) {
	e := publishedEvent()
	w := CheckInWindow{Enforced: true, OpensBefore: time.Hour, ClosesAfter: 30 * time.Minute}

	assert.ErrorIs(t, w.Check(e, e.StartDate.Add(-2*time.Hour)), ErrCheckInNotYetOpen)
	assert.NoError(t, w.Check(e, e.StartDate.Add(-time.Hour)))
	assert.NoError(t, w.Check(e, e.EndDate.Add(30*time.Minute)))
	assert.ErrorIs(t, w.Check(e, e.EndDate.Add(31*time.Minute)), ErrEventOver)

	assert.NoError(t, CheckInWindow{}.Check(e, e.EndDate.Add(time.Hour*1000)))
}

func TestErrorKindsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrFull, ErrAgeIneligible))
	assert.False(t, errors.Is(ErrTooYoung, ErrCapacityUnavailable))
	assert.False(t, errors.Is(ErrFull, ErrNotPublished))
}
