package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTokenNotFound = errors.New("token not found")

// ErrTokenNotSaved is returned when an insert affected no rows.
var ErrTokenNotSaved = errors.New("token not saved")

// RefreshToken is the persisted half of a refresh token. Only the SHA-256
// of the token string is stored.
type RefreshToken struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type TokenRepository struct {
	q Querier
}

var _ RefreshTokenStore = (*TokenRepository)(nil)

func NewTokenRepository(q Querier) *TokenRepository {
	return &TokenRepository{q: q}
}

func (r *TokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		token.ID, token.AccountID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		if _, ok := foreignKeyViolation(err); ok {
			return ErrAccountNotFound
		}
		return err
	}

	return expectOneRow(result, ErrTokenNotSaved)
}

// Consume is a conditional delete: of two concurrent callers presenting the
// same token only one gets the row back.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING id, account_id, token_hash, expires_at, created_at
	`

	token := &RefreshToken{}
	err := r.q.QueryRowContext(ctx, query, tokenHash, now).Scan(
		&token.ID, &token.AccountID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return token, nil
}

func (r *TokenRepository) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]RefreshToken, error) {
	query := `
		SELECT id, account_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *TokenRepository) DeleteForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
