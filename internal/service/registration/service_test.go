package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/notify"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/repository/memory"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, int64, time.Duration, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(int64), args.Get(2).(time.Duration), args.Error(3)
}

type fixture struct {
	store *memory.Store
	svc   *Service
	clock *time.Time
}

func newFixture(t *testing.T, n notify.Notifier) *fixture {
	t.Helper()

	store := memory.New()
	clock := now
	f := &fixture{store: store, clock: &clock}

	var d *notify.Dispatcher
	if n != nil {
		d = notify.NewDispatcher(n, slog.New(slog.DiscardHandler), time.Second)
	}

	f.svc = New(Deps{
		Repos:    store.Repos(),
		Tx:       store,
		Clock:    domain.ClockFunc(func() time.Time { return *f.clock }),
		Notifier: d,
	})

	return f
}

func (f *fixture) event(t *testing.T, mutate func(*domain.Event)) *domain.Event {
	t.Helper()

	ev := &domain.Event{
		ID:        fmt.Sprintf("ev-%d", time.Now().UnixNano()),
		Title:     "Go Meetup",
		Capacity:  10,
		StartDate: now.Add(48 * time.Hour),
		EndDate:   now.Add(50 * time.Hour),
		MinAge:    domain.DefaultMinAge,
		Prices:    domain.PriceTiers{Base: 2000},
		Status:    domain.EventPublished,
	}
	if mutate != nil {
		mutate(ev)
	}

	require.NoError(t, f.store.Repos().Events().Create(context.Background(), ev))
	return ev
}

func (f *fixture) user(t *testing.T, id string, age int) {
	t.Helper()

	require.NoError(t, f.store.Repos().Users().Create(context.Background(), &domain.User{
		ID:        id,
		Email:     id + "@example.com",
		BirthDate: now.AddDate(-age, 0, -1),
	}))
}

func (f *fixture) count(t *testing.T, eventID string) int {
	t.Helper()

	ev, err := f.store.Repos().Events().Get(context.Background(), eventID)
	require.NoError(t, err)

	n, err := f.store.Repos().Registrations().CountActive(context.Background(), eventID)
	require.NoError(t, err)
	require.Equal(t, n, ev.RegisteredCount, "counter drifted from active registrations")

	return ev.RegisteredCount
}

func TestRegister_Confirmed(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, domain.RegistrationConfirmed, res.Registration.Status)
	assert.Equal(t, int64(2000), res.Registration.PriceCents)
	assert.NotEmpty(t, res.Registration.TicketCode)
	assert.Equal(t, now, res.Registration.CreatedAt)
	assert.Equal(t, 1, f.count(t, ev.ID))
}

func TestRegister_PendingWhenApprovalRequired(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, func(e *domain.Event) { e.RequiresApproval = true })
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.RegistrationPending, res.Registration.Status)
	assert.Equal(t, 1, f.count(t, ev.ID))

	approved, err := f.svc.Approve(context.Background(), res.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationConfirmed, approved.Status)
	assert.Equal(t, 1, f.count(t, ev.ID))

	_, err = f.svc.Approve(context.Background(), res.Registration.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestRegister_PriceTiers(t *testing.T) {
	youth, senior := int64(1000), int64(1200)

	tests := []struct {
		name string
		age  int
		want int64
	}{
		{"youth", 20, youth},
		{"adult", 40, 2000},
		{"senior", 65, senior},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ev := f.event(t, func(e *domain.Event) {
				e.Prices = domain.PriceTiers{Base: 2000, Youth: &youth, Senior: &senior}
			})

			age := tt.age
			res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID, Age: &age})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Registration.PriceCents)
		})
	}
}

func TestRegister_AgeIneligibleWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, func(e *domain.Event) { e.MinAge = 18 })
	f.user(t, "kid", 16)

	_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "kid", EventID: ev.ID})
	assert.ErrorIs(t, err, domain.ErrTooYoung)
	assert.ErrorIs(t, err, domain.ErrAgeIneligible)

	assert.Equal(t, 0, f.count(t, ev.ID))
	regs, err := f.svc.ListByUser(context.Background(), "kid")
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestRegister_TooOld(t *testing.T) {
	f := newFixture(t, nil)
	maxAge := 30
	ev := f.event(t, func(e *domain.Event) { e.MaxAge = &maxAge })

	age := 31
	_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID, Age: &age})
	assert.ErrorIs(t, err, domain.ErrTooOld)
}

func TestRegister_GateRefusals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Event)
		want   error
	}{
		{"draft", func(e *domain.Event) { e.Status = domain.EventDraft }, domain.ErrNotPublished},
		{"cancelled", func(e *domain.Event) { e.Status = domain.EventCancelled }, domain.ErrNotPublished},
		{"full", func(e *domain.Event) { e.Capacity = 0 }, domain.ErrFull},
		{"window not open", func(e *domain.Event) {
			start := now.Add(time.Hour)
			e.RegistrationStart = &start
		}, domain.ErrRegistrationNotStarted},
		{"window closed", func(e *domain.Event) {
			end := now.Add(-time.Hour)
			e.RegistrationEnd = &end
		}, domain.ErrRegistrationWindowClosed},
		{"finished", func(e *domain.Event) {
			e.StartDate = now.Add(-3 * time.Hour)
			e.EndDate = now.Add(-time.Hour)
		}, domain.ErrEventAlreadyFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ev := f.event(t, tt.mutate)
			f.user(t, "u1", 30)

			_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrCapacityUnavailable)
			assert.Equal(t, 0, f.count(t, ev.ID))
		})
	}
}

func TestRegister_UnknownEventAndUser(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)

	_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Register(context.Background(), RegisterInput{UserID: "ghost", EventID: ev.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegister_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, func(e *domain.Event) { e.Capacity = 1 })
	f.user(t, "u1", 30)

	first, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	// The event is now full, the repeat still gets its own seat back.
	second, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Registration.ID, second.Registration.ID)
	assert.Equal(t, 1, f.count(t, ev.ID))
}

func TestRegister_NoOverbookingUnderContention(t *testing.T) {
	const (
		capacity = 3
		callers  = 40
	)

	f := newFixture(t, nil)
	ev := f.event(t, func(e *domain.Event) { e.Capacity = capacity })

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		full    int
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			age := 30
			res, err := f.svc.Register(context.Background(), RegisterInput{
				UserID:  fmt.Sprintf("u%d", i),
				EventID: ev.ID,
				Age:     &age,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Created:
				created++
			case errors.Is(err, domain.ErrFull):
				full++
			default:
				t.Errorf("unexpected result: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, created)
	assert.Equal(t, callers-capacity, full)
	assert.Equal(t, capacity, f.count(t, ev.ID))
}

func TestRegister_RateLimited(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)

	l := new(mockLimiter)
	l.On("Allow", mock.Anything, "ip:1").Return(false, int64(6), 3*time.Second, nil).Once()
	f.svc.limiter = l

	age := 30
	_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID, Age: &age, RateKey: "ip:1"})
	assert.ErrorIs(t, err, ratelimit.ErrLimited)

	var rl *ratelimit.Error
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
	assert.Equal(t, 0, f.count(t, ev.ID))
	l.AssertExpectations(t)
}

func TestCancel_ReleasesOneSeat(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, func(e *domain.Event) { e.Capacity = 1 })
	f.user(t, "u1", 30)
	f.user(t, "u2", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), RegisterInput{UserID: "u2", EventID: ev.ID})
	require.ErrorIs(t, err, domain.ErrFull)

	canceled, err := f.svc.Cancel(context.Background(), res.Registration.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, now, *canceled.CanceledAt)
	assert.Equal(t, 0, f.count(t, ev.ID))

	_, err = f.svc.Cancel(context.Background(), res.Registration.ID, "u1")
	assert.ErrorIs(t, err, domain.ErrAlreadyCanceled)
	assert.Equal(t, 0, f.count(t, ev.ID))

	// The freed seat goes to the next caller.
	_, err = f.svc.Register(context.Background(), RegisterInput{UserID: "u2", EventID: ev.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, ev.ID))

	// The seat is taken again.
	again, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	assert.ErrorIs(t, err, domain.ErrFull)
	assert.Nil(t, again)
}

func TestCancel_OwnershipAndUnknown(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), res.Registration.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Cancel(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.CancelAsAdmin(context.Background(), res.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.count(t, ev.ID))
}

func TestCancel_AfterEventStarted(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	*f.clock = ev.StartDate.Add(time.Minute)

	_, err = f.svc.Cancel(context.Background(), res.Registration.ID, "u1")
	assert.ErrorIs(t, err, domain.ErrEventStarted)
	assert.Equal(t, 1, f.count(t, ev.ID))
}

func TestCancel_ClampsDriftedCounter(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	require.NoError(t, f.store.Repos().Events().SetRegisteredCount(context.Background(), ev.ID, 0))

	_, err = f.svc.Cancel(context.Background(), res.Registration.ID, "u1")
	require.NoError(t, err)

	got, err := f.store.Repos().Events().Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RegisteredCount)
}

func TestNotifications(t *testing.T) {
	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindRegistered && m.TicketCode != "" && m.EventTitle == "Go Meetup"
	})).Return(nil).Once()
	n.On("Notify", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Kind == notify.KindCanceled && m.TicketCode == ""
	})).Return(nil).Once()

	f := newFixture(t, n)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), res.Registration.ID, "u1")
	require.NoError(t, err)

	f.svc.Wait()
	n.AssertExpectations(t)
}

func TestNotifications_FailureDoesNotFailRegistration(t *testing.T) {
	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	f := newFixture(t, n)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)

	res, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.NoError(t, err)
	assert.True(t, res.Created)

	f.svc.Wait()
	n.AssertNumberOfCalls(t, "Notify", 1)
	assert.Equal(t, 1, f.count(t, ev.ID))
}

func TestNotifications_NotSentOnFailure(t *testing.T) {
	n := new(mockNotifier)

	f := newFixture(t, n)
	ev := f.event(t, func(e *domain.Event) { e.Capacity = 0 })
	f.user(t, "u1", 30)

	_, err := f.svc.Register(context.Background(), RegisterInput{UserID: "u1", EventID: ev.ID})
	require.ErrorIs(t, err, domain.ErrFull)

	f.svc.Wait()
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestListByEvent(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.event(t, nil)
	f.user(t, "u1", 30)
	f.user(t, "u2", 30)

	for _, u := range []string{"u1", "u2"} {
		_, err := f.svc.Register(context.Background(), RegisterInput{UserID: u, EventID: ev.ID})
		require.NoError(t, err)
	}

	regs, err := f.svc.ListByEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Len(t, regs, 2)

	_, err = f.svc.ListByEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.svc.Get(context.Background(), regs[0].ID, regs[0].UserID)
	require.NoError(t, err)
	assert.Equal(t, regs[0].ID, got.ID)

	_, err = f.svc.Get(context.Background(), regs[0].ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
