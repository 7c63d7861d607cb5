package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("account not found")
var ErrEmailExists = errors.New("email already exists")

// AccountKind discriminates the account variants.
type AccountKind string

const (
	KindRegularUser    AccountKind = "regular_user"
	KindBusinessClient AccountKind = "business_client"
)

// AccountKinds lists every kind. Role mappings are validated against it at startup.
var AccountKinds = []AccountKind{KindRegularUser, KindBusinessClient}

type Account struct {
	ID           uuid.UUID
	Kind         AccountKind
	Email        string
	Username     string
	PasswordHash string
	// TaxID is only set for business clients.
	TaxID     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AccountRepository struct {
	q Querier
}

var _ AccountStore = (*AccountRepository)(nil)

func NewAccountRepository(q Querier) *AccountRepository {
	return &AccountRepository{q: q}
}

const accountColumns = `id, kind, email, username, password_hash, tax_id, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	a := &Account{}
	var taxID sql.NullString
	err := row.Scan(&a.ID, &a.Kind, &a.Email, &a.Username, &a.PasswordHash, &taxID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.TaxID = taxID.String
	return a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, kind, email, username, password_hash, tax_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		account.ID, account.Kind, account.Email, account.Username, account.PasswordHash,
		nullString(account.TaxID), account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}

	return nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.q.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.q.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) Update(ctx context.Context, account *Account) error {
	query := `
		UPDATE accounts
		SET email = $2, username = $3, password_hash = $4, tax_id = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		account.ID, account.Email, account.Username, account.PasswordHash,
		nullString(account.TaxID), account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}

	return expectOneRow(result, ErrAccountNotFound)
}

// Delete removes the account. Refresh tokens, venues, hobbies and signups
// cascade; organized events are detached by the schema.
func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, ErrAccountNotFound)
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
