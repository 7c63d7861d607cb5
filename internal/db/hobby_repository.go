package db

import (
	"context"

	"github.com/google/uuid"
)

type Hobby struct {
	ID   int64
	Name string
}

type HobbyRepository struct {
	q Querier
}

var _ HobbyStore = (*HobbyRepository)(nil)

func NewHobbyRepository(q Querier) *HobbyRepository {
	return &HobbyRepository{q: q}
}

// Ensure returns the hobby with the given (already normalized) name, creating it if needed.
func (r *HobbyRepository) Ensure(ctx context.Context, name string) (*Hobby, error) {
	query := `
		INSERT INTO hobbies (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`

	h := &Hobby{}
	if err := r.q.QueryRowContext(ctx, query, name).Scan(&h.ID, &h.Name); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *HobbyRepository) List(ctx context.Context) ([]Hobby, error) {
	return r.list(ctx, `SELECT id, name FROM hobbies ORDER BY name ASC`)
}

func (r *HobbyRepository) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Hobby, error) {
	query := `
		SELECT h.id, h.name
		FROM hobbies h
		JOIN account_hobbies ah ON ah.hobby_id = h.id
		WHERE ah.account_id = $1
		ORDER BY h.name ASC
	`
	return r.list(ctx, query, accountID)
}

func (r *HobbyRepository) list(ctx context.Context, query string, args ...any) ([]Hobby, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hobbies []Hobby
	for rows.Next() {
		var h Hobby
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return nil, err
		}
		hobbies = append(hobbies, h)
	}
	return hobbies, rows.Err()
}

// SetForAccount replaces the account's hobby set. Callers run it inside a transaction.
func (r *HobbyRepository) SetForAccount(ctx context.Context, accountID uuid.UUID, hobbyIDs []int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM account_hobbies WHERE account_id = $1`, accountID); err != nil {
		return err
	}

	for _, id := range hobbyIDs {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO account_hobbies (account_id, hobby_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			accountID, id,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
