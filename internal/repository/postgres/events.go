package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
)

const eventColumns = `id, title, description, capacity, registered_count,
	start_date, end_date, registration_start, registration_end,
	min_age, max_age, base_price_cents, youth_price_cents, senior_price_cents,
	status, requires_approval, created_at, updated_at`

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Capacity, &e.RegisteredCount,
		&e.StartDate, &e.EndDate, &e.RegistrationStart, &e.RegistrationEnd,
		&e.MinAge, &e.MaxAge, &e.Prices.Base, &e.Prices.Youth, &e.Prices.Senior,
		&e.Status, &e.RequiresApproval, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}

	return out, rows.Err()
}

// Create inserts a new event.
//
// Returns:
//   - error: repository.ErrConflict if the id is already taken.
func (r *EventRepo) Create(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Create"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO events(`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		e.ID, e.Title, e.Description, e.Capacity, e.RegisteredCount,
		e.StartDate, e.EndDate, e.RegistrationStart, e.RegistrationEnd,
		e.MinAge, e.MaxAge, e.Prices.Base, e.Prices.Youth, e.Prices.Senior,
		e.Status, e.RequiresApproval, e.CreatedAt, e.UpdatedAt,
	)

	return wrapDBErr(op, err)
}

// Get retrieves an event by its ID without locking.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

// GetForUpdate retrieves an event and locks its row until the transaction ends.
// Must be called with a transaction handle.
//
// Returns:
//   - *domain.Event: the locked event.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) GetForUpdate(ctx context.Context, id string) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetForUpdate"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Update"

	tag, err := r.handle().Exec(ctx,
		`UPDATE events SET
			title = $2, description = $3, capacity = $4,
			start_date = $5, end_date = $6,
			registration_start = $7, registration_end = $8,
			min_age = $9, max_age = $10,
			base_price_cents = $11, youth_price_cents = $12, senior_price_cents = $13,
			status = $14, requires_approval = $15, updated_at = $16
		 WHERE id = $1`,
		e.ID, e.Title, e.Description, e.Capacity,
		e.StartDate, e.EndDate,
		e.RegistrationStart, e.RegistrationEnd,
		e.MinAge, e.MaxAge,
		e.Prices.Base, e.Prices.Youth, e.Prices.Senior,
		e.Status, e.RequiresApproval, e.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

func (r *EventRepo) SetRegisteredCount(ctx context.Context, id string, n int) error {
	const op = "postgres.EventRepo.SetRegisteredCount"

	tag, err := r.handle().Exec(ctx,
		`UPDATE events SET registered_count = $2, updated_at = now() WHERE id = $1`,
		id, n,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

// SetStatus is a compare-and-set on the status column.
//
// Returns:
//   - bool: true when the row moved from `from` to `to`.
func (r *EventRepo) SetStatus(
	ctx context.Context,
	id string,
	from, to domain.EventStatus,
) (bool, error) {
	const op = "postgres.EventRepo.SetStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE events SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2 AND status <> 'cancelled'`,
		id, from, to,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *EventRepo) List(ctx context.Context, f repository.EventFilter) ([]domain.Event, error) {
	const op = "postgres.EventRepo.List"

	rows, err := r.handle().Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY start_date, id
		 LIMIT $2 OFFSET $3`,
		string(f.Status), f.Limit, f.Offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return events, nil
}

func (r *EventRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	const op = "postgres.EventRepo.ListDue"

	rows, err := r.handle().Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE (status IN ('draft', 'published') AND start_date <= $1)
		    OR (status = 'ongoing' AND end_date <= $1)
		 ORDER BY start_date, id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return events, nil
}
