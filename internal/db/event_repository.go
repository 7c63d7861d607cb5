package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEventNotFound = errors.New("event not found")

type Event struct {
	ID uuid.UUID
	// OrganizerID is invalid once the organizing account has been deleted.
	OrganizerID uuid.NullUUID
	VenueID     uuid.NullUUID
	Title       string
	Slug        string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	// Capacity of zero means unlimited.
	Capacity    int
	CoverKey    string
	SignupCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventFilter narrows List. Zero values mean "no constraint".
type EventFilter struct {
	OrganizerID uuid.NullUUID
	VenueID     uuid.NullUUID
	// EndsAfter, when set, keeps only events still running or upcoming at that time.
	EndsAfter time.Time
	// Text matches title or description, case-insensitively.
	Text   string
	Limit  int
	Offset int
}

type EventRepository struct {
	q Querier
}

var _ EventStore = (*EventRepository)(nil)

func NewEventRepository(q Querier) *EventRepository {
	return &EventRepository{q: q}
}

const eventColumns = `e.id, e.organizer_id, e.venue_id, e.title, e.slug, e.description,
		e.starts_at, e.ends_at, e.capacity, e.cover_key, e.created_at, e.updated_at`

const signupCountColumn = `(SELECT COUNT(*) FROM event_signups s WHERE s.event_id = e.id)`

func scanEvent(row interface{ Scan(...any) error }, extra ...any) (*Event, error) {
	e := &Event{}
	var coverKey sql.NullString
	dest := []any{
		&e.ID, &e.OrganizerID, &e.VenueID, &e.Title, &e.Slug, &e.Description,
		&e.StartsAt, &e.EndsAt, &e.Capacity, &coverKey, &e.CreatedAt, &e.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	e.CoverKey = coverKey.String
	return e, nil
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (id, organizer_id, venue_id, title, slug, description,
			starts_at, ends_at, capacity, cover_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.ExecContext(ctx, query,
		event.ID, event.OrganizerID, event.VenueID, event.Title, event.Slug, event.Description,
		event.StartsAt, event.EndsAt, event.Capacity, nullString(event.CoverKey),
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := foreignKeyViolation(err); ok {
			if constraint == fkEventOrganizer {
				return ErrAccountNotFound
			}
			return ErrVenueNotFound
		}
		return err
	}
	return nil
}

// GetByID retrieves an event with its current signup count.
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `SELECT ` + eventColumns + `, ` + signupCountColumn + ` FROM events e WHERE e.id = $1`

	var count int
	e, err := scanEvent(r.q.QueryRowContext(ctx, query, id), &count)
	if err != nil {
		return nil, err
	}
	e.SignupCount = count
	return e, nil
}

func (r *EventRepository) LockByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1 FOR UPDATE`
	return scanEvent(r.q.QueryRowContext(ctx, query, id))
}

// List returns one page of events ordered by start time plus the total
// number of matches.
func (r *EventRepository) List(ctx context.Context, filter EventFilter) ([]Event, int, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrganizerID.Valid {
		add("e.organizer_id = $%d", filter.OrganizerID.UUID)
	}
	if filter.VenueID.Valid {
		add("e.venue_id = $%d", filter.VenueID.UUID)
	}
	if !filter.EndsAfter.IsZero() {
		add("e.ends_at > $%d", filter.EndsAfter)
	}
	if filter.Text != "" {
		add("(e.title ILIKE $%[1]d OR e.description ILIKE $%[1]d)", containsPattern(filter.Text))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s, %s, COUNT(*) OVER() AS total
		FROM events e
		%s
		ORDER BY e.starts_at ASC, e.id ASC
		LIMIT $%d OFFSET $%d
	`, eventColumns, signupCountColumn, where, len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []Event
	total := 0
	for rows.Next() {
		var count int
		e, err := scanEvent(rows, &count, &total)
		if err != nil {
			return nil, 0, err
		}
		e.SignupCount = count
		events = append(events, *e)
	}
	return events, total, rows.Err()
}

func (r *EventRepository) Update(ctx context.Context, event *Event) error {
	query := `
		UPDATE events
		SET venue_id = $2, title = $3, slug = $4, description = $5, starts_at = $6,
			ends_at = $7, capacity = $8, cover_key = $9, updated_at = $10
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		event.ID, event.VenueID, event.Title, event.Slug, event.Description, event.StartsAt,
		event.EndsAt, event.Capacity, nullString(event.CoverKey), event.UpdatedAt,
	)
	if err != nil {
		if _, ok := foreignKeyViolation(err); ok {
			return ErrVenueNotFound
		}
		return err
	}
	return expectOneRow(result, ErrEventNotFound)
}

func (r *EventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrEventNotFound)
}

func (r *EventRepository) DeleteByOrganizer(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM events WHERE organizer_id = $1`, organizerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
