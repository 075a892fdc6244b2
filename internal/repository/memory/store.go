// Package memory provides an in-process transactional store with the same
// semantics as the Postgres store. A unit of work runs against a private copy
// of the state and swaps it in on success, so an aborted or cancelled unit
// leaves nothing behind. Units of work are serialized, which is a stronger
// guarantee than the row locks the Postgres store takes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
	"github.com/kirinyoku/evreg/internal/uow"
)

type state struct {
	events        map[string]domain.Event
	registrations map[string]domain.Registration
	users         map[string]domain.User
}

func newState() *state {
	return &state{
		events:        map[string]domain.Event{},
		registrations: map[string]domain.Registration{},
		users:         map[string]domain.User{},
	}
}

func (s *state) clone() *state {
	cp := &state{
		events:        make(map[string]domain.Event, len(s.events)),
		registrations: make(map[string]domain.Registration, len(s.registrations)),
		users:         make(map[string]domain.User, len(s.users)),
	}
	for k, v := range s.events {
		cp.events[k] = v
	}
	for k, v := range s.registrations {
		cp.registrations[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	return cp
}

type Store struct {
	mu    sync.Mutex
	state *state
}

var _ uow.Runner = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

// Do runs fn on a copy of the state and commits it if fn succeeds and ctx
// is still alive. Hooks run after the lock is released.
func (s *Store) Do(ctx context.Context, fn uow.Func) error {
	var hooks []uow.AfterCommit

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}

		working := s.state.clone()
		tx := &repos{tx: working}

		if err := fn(ctx, tx, func(h uow.AfterCommit) { hooks = append(hooks, h) }); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		s.state = working
		return nil
	}()
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// Repos returns autocommit repositories over the committed state.
func (s *Store) Repos() repository.Repos {
	return &repos{store: s}
}

type repos struct {
	store *Store
	tx    *state
}

func (r *repos) Events() repository.EventRepository               { return eventRepo{r} }
func (r *repos) Registrations() repository.RegistrationRepository { return registrationRepo{r} }
func (r *repos) Users() repository.UserRepository                 { return userRepo{r} }

func (r *repos) with(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return fn(r.store.state)
}

type eventRepo struct{ r *repos }

func (e eventRepo) Create(ctx context.Context, ev *domain.Event) error {
	return e.r.with(func(st *state) error {
		if _, ok := st.events[ev.ID]; ok {
			return repository.ErrConflict
		}
		st.events[ev.ID] = *ev
		return nil
	})
}

func (e eventRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	var out domain.Event
	err := e.r.with(func(st *state) error {
		ev, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e eventRepo) GetForUpdate(ctx context.Context, id string) (*domain.Event, error) {
	return e.Get(ctx, id)
}

func (e eventRepo) Update(ctx context.Context, ev *domain.Event) error {
	return e.r.with(func(st *state) error {
		cur, ok := st.events[ev.ID]
		if !ok {
			return repository.ErrNotFound
		}
		next := *ev
		next.RegisteredCount = cur.RegisteredCount
		next.CreatedAt = cur.CreatedAt
		st.events[ev.ID] = next
		return nil
	})
}

func (e eventRepo) SetRegisteredCount(ctx context.Context, id string, n int) error {
	return e.r.with(func(st *state) error {
		ev, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		ev.RegisteredCount = n
		st.events[id] = ev
		return nil
	})
}

func (e eventRepo) SetStatus(ctx context.Context, id string, from, to domain.EventStatus) (bool, error) {
	var changed bool
	err := e.r.with(func(st *state) error {
		ev, ok := st.events[id]
		if !ok || ev.Status != from || ev.Status == domain.EventCancelled {
			return nil
		}
		ev.Status = to
		st.events[id] = ev
		changed = true
		return nil
	})
	return changed, err
}

func (e eventRepo) List(ctx context.Context, f repository.EventFilter) ([]domain.Event, error) {
	return e.collect(func(ev domain.Event) bool {
		return f.Status == "" || ev.Status == f.Status
	}, f.Limit, f.Offset)
}

func (e eventRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	return e.collect(func(ev domain.Event) bool {
		switch ev.Status {
		case domain.EventDraft, domain.EventPublished:
			return !now.Before(ev.StartDate)
		case domain.EventOngoing:
			return !now.Before(ev.EndDate)
		}
		return false
	}, limit, 0)
}

func (e eventRepo) collect(keep func(domain.Event) bool, limit, offset int) ([]domain.Event, error) {
	var out []domain.Event
	err := e.r.with(func(st *state) error {
		for _, ev := range st.events {
			if keep(ev) {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})

	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type registrationRepo struct{ r *repos }

func (rr registrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	return rr.r.with(func(st *state) error {
		if _, ok := st.registrations[reg.ID]; ok {
			return repository.ErrConflict
		}
		for _, other := range st.registrations {
			if other.TicketCode == reg.TicketCode {
				return repository.ErrConflict
			}
			if reg.Status.OccupiesSeat() && other.Status.OccupiesSeat() &&
				other.UserID == reg.UserID && other.EventID == reg.EventID {
				return repository.ErrConflict
			}
		}
		st.registrations[reg.ID] = *reg
		return nil
	})
}

func (rr registrationRepo) find(match func(domain.Registration) bool) (*domain.Registration, error) {
	var out *domain.Registration
	err := rr.r.with(func(st *state) error {
		for _, reg := range st.registrations {
			if match(reg) {
				found := reg
				out = &found
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (rr registrationRepo) Get(ctx context.Context, id string) (*domain.Registration, error) {
	var out domain.Registration
	err := rr.r.with(func(st *state) error {
		reg, ok := st.registrations[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (rr registrationRepo) GetForUpdate(ctx context.Context, id string) (*domain.Registration, error) {
	return rr.Get(ctx, id)
}

func (rr registrationRepo) GetByTicketCodeForUpdate(ctx context.Context, code string) (*domain.Registration, error) {
	return rr.find(func(reg domain.Registration) bool { return reg.TicketCode == code })
}

func (rr registrationRepo) FindActive(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	return rr.find(func(reg domain.Registration) bool {
		return reg.UserID == userID && reg.EventID == eventID && reg.Status.OccupiesSeat()
	})
}

func (rr registrationRepo) Update(ctx context.Context, reg *domain.Registration) error {
	return rr.r.with(func(st *state) error {
		cur, ok := st.registrations[reg.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Status = reg.Status
		cur.AttendedAt = reg.AttendedAt
		cur.CanceledAt = reg.CanceledAt
		cur.UpdatedAt = reg.UpdatedAt
		st.registrations[reg.ID] = cur
		return nil
	})
}

func (rr registrationRepo) list(keep func(domain.Registration) bool) ([]domain.Registration, error) {
	var out []domain.Registration
	err := rr.r.with(func(st *state) error {
		for _, reg := range st.registrations {
			if keep(reg) {
				out = append(out, reg)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (rr registrationRepo) ListByUser(ctx context.Context, userID string) ([]domain.Registration, error) {
	return rr.list(func(reg domain.Registration) bool { return reg.UserID == userID })
}

func (rr registrationRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	return rr.list(func(reg domain.Registration) bool { return reg.EventID == eventID })
}

func (rr registrationRepo) CountActive(ctx context.Context, eventID string) (int, error) {
	regs, err := rr.list(func(reg domain.Registration) bool {
		return reg.EventID == eventID && reg.Status.OccupiesSeat()
	})
	return len(regs), err
}

type userRepo struct{ r *repos }

func (u userRepo) Create(ctx context.Context, user *domain.User) error {
	return u.r.with(func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return repository.ErrConflict
		}
		for _, other := range st.users {
			if other.Email == user.Email {
				return repository.ErrConflict
			}
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (u userRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	var out domain.User
	err := u.r.with(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
