package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists accounts of every kind.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, account *Account) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RefreshTokenStore persists refresh token hashes.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	// Consume deletes and returns the token with the given hash if it has
	// not expired at now. Anything else is ErrTokenNotFound.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]RefreshToken, error)
	DeleteForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type EventStore interface {
	Create(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	// LockByID reads the event and holds a row lock until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, filter EventFilter) ([]Event, int, error)
	Update(ctx context.Context, event *Event) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByOrganizer(ctx context.Context, organizerID uuid.UUID) (int64, error)
}

type VenueStore interface {
	Create(ctx context.Context, venue *Venue) error
	GetByID(ctx context.Context, id uuid.UUID) (*Venue, error)
	List(ctx context.Context, filter VenueFilter) ([]Venue, int, error)
	Update(ctx context.Context, venue *Venue) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type HobbyStore interface {
	Ensure(ctx context.Context, name string) (*Hobby, error)
	List(ctx context.Context) ([]Hobby, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]Hobby, error)
	SetForAccount(ctx context.Context, accountID uuid.UUID, hobbyIDs []int64) error
}

type SignupStore interface {
	Create(ctx context.Context, eventID, accountID uuid.UUID) error
	Delete(ctx context.Context, eventID, accountID uuid.UUID) error
	Count(ctx context.Context, eventID uuid.UUID) (int, error)
	ListAccountIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
	ListEventsForAccount(ctx context.Context, accountID uuid.UUID) ([]Event, error)
}

// Store is the unit of work. Repositories obtained from the Store passed to
// an InTx callback share that transaction.
type Store interface {
	Accounts() AccountStore
	RefreshTokens() RefreshTokenStore
	Events() EventStore
	Venues() VenueStore
	Hobbies() HobbyStore
	Signups() SignupStore
	InTx(ctx context.Context, fn func(Store) error) error
}

// SQLStore is the Postgres Store.
type SQLStore struct {
	db *sql.DB
	q  Querier
	tx bool
}

var _ Store = (*SQLStore)(nil)

func NewStore(db *DB) *SQLStore {
	return &SQLStore{db: db.DB, q: db.DB}
}

func (s *SQLStore) Accounts() AccountStore           { return NewAccountRepository(s.q) }
func (s *SQLStore) RefreshTokens() RefreshTokenStore { return NewTokenRepository(s.q) }
func (s *SQLStore) Events() EventStore               { return NewEventRepository(s.q) }
func (s *SQLStore) Venues() VenueStore               { return NewVenueRepository(s.q) }
func (s *SQLStore) Hobbies() HobbyStore              { return NewHobbyRepository(s.q) }
func (s *SQLStore) Signups() SignupStore             { return NewSignupRepository(s.q) }

// InTx runs fn inside one transaction, committing only when fn returns nil.
// Calls nested inside an open transaction reuse it.
func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) (err error) {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&SQLStore{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
