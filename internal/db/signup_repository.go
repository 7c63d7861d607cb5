package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrSignupNotFound = errors.New("signup not found")
var ErrAlreadySignedUp = errors.New("already signed up")

type SignupRepository struct {
	q Querier
}

var _ SignupStore = (*SignupRepository)(nil)

func NewSignupRepository(q Querier) *SignupRepository {
	return &SignupRepository{q: q}
}

func (r *SignupRepository) Create(ctx context.Context, eventID, accountID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO event_signups (event_id, account_id) VALUES ($1, $2)`,
		eventID, accountID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySignedUp
		}
		if constraint, ok := foreignKeyViolation(err); ok {
			if constraint == fkSignupAccount {
				return ErrAccountNotFound
			}
			return ErrEventNotFound
		}
		return err
	}
	return nil
}

func (r *SignupRepository) Delete(ctx context.Context, eventID, accountID uuid.UUID) error {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM event_signups WHERE event_id = $1 AND account_id = $2`,
		eventID, accountID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrSignupNotFound)
}

func (r *SignupRepository) Count(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_signups WHERE event_id = $1`, eventID).Scan(&n)
	return n, err
}

func (r *SignupRepository) ListAccountIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT account_id FROM event_signups WHERE event_id = $1 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListEventsForAccount returns the events the account signed up for, soonest first.
func (r *SignupRepository) ListEventsForAccount(ctx context.Context, accountID uuid.UUID) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `, ` + signupCountColumn + `
		FROM events e
		JOIN event_signups es ON es.event_id = e.id
		WHERE es.account_id = $1
		ORDER BY e.starts_at ASC
	`

	rows, err := r.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var count int
		e, err := scanEvent(rows, &count)
		if err != nil {
			return nil, err
		}
		e.SignupCount = count
		events = append(events, *e)
	}
	return events, rows.Err()
}
