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

var ErrVenueNotFound = errors.New("venue not found")

type Venue struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Address   string
	City      string
	Capacity  int
	PhotoKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type VenueFilter struct {
	OwnerID uuid.NullUUID
	// City matches case-insensitively.
	City string
	// Text matches name or address, case-insensitively.
	Text   string
	Limit  int
	Offset int
}

type VenueRepository struct {
	q Querier
}

var _ VenueStore = (*VenueRepository)(nil)

func NewVenueRepository(q Querier) *VenueRepository {
	return &VenueRepository{q: q}
}

const venueColumns = `id, owner_id, name, address, city, capacity, photo_key, created_at, updated_at`

func scanVenue(row interface{ Scan(...any) error }, extra ...any) (*Venue, error) {
	v := &Venue{}
	var photoKey sql.NullString
	dest := []any{&v.ID, &v.OwnerID, &v.Name, &v.Address, &v.City, &v.Capacity, &photoKey, &v.CreatedAt, &v.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVenueNotFound
		}
		return nil, err
	}
	v.PhotoKey = photoKey.String
	return v, nil
}

func (r *VenueRepository) Create(ctx context.Context, venue *Venue) error {
	query := `
		INSERT INTO venues (id, owner_id, name, address, city, capacity, photo_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		venue.ID, venue.OwnerID, venue.Name, venue.Address, venue.City, venue.Capacity,
		nullString(venue.PhotoKey), venue.CreatedAt, venue.UpdatedAt,
	)
	if _, ok := foreignKeyViolation(err); ok {
		return ErrAccountNotFound
	}
	return err
}

func (r *VenueRepository) GetByID(ctx context.Context, id uuid.UUID) (*Venue, error) {
	query := `SELECT ` + venueColumns + ` FROM venues WHERE id = $1`
	return scanVenue(r.q.QueryRowContext(ctx, query, id))
}

func (r *VenueRepository) List(ctx context.Context, filter VenueFilter) ([]Venue, int, error) {
	var conds []string
	var args []any
	if filter.OwnerID.Valid {
		args = append(args, filter.OwnerID.UUID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.City != "" {
		args = append(args, filter.City)
		conds = append(conds, fmt.Sprintf("LOWER(city) = LOWER($%d)", len(args)))
	}
	if filter.Text != "" {
		args = append(args, containsPattern(filter.Text))
		conds = append(conds, fmt.Sprintf("(name ILIKE $%[1]d OR address ILIKE $%[1]d)", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total
		FROM venues
		%s
		ORDER BY name ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, venueColumns, where, len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var venues []Venue
	total := 0
	for rows.Next() {
		v, err := scanVenue(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		venues = append(venues, *v)
	}
	return venues, total, rows.Err()
}

func (r *VenueRepository) Update(ctx context.Context, venue *Venue) error {
	query := `
		UPDATE venues
		SET name = $2, address = $3, city = $4, capacity = $5, photo_key = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		venue.ID, venue.Name, venue.Address, venue.City, venue.Capacity,
		nullString(venue.PhotoKey), venue.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrVenueNotFound)
}

func (r *VenueRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM venues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrVenueNotFound)
}
