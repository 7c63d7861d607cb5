package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/config"
	"github.com/gatherly/backend/internal/db"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

var signingMethod = jwt.SigningMethodHS256

type AccessClaims struct {
	TokenType string `json:"token_type"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 tokens. It holds no mutable state.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	roles      RoleNames
	now        func() time.Time
}

// NewIssuer fails when the configuration is incomplete; callers treat that as fatal.
func NewIssuer(cfg config.JWTConfig) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	roles := RoleNamesFrom(cfg)
	if err := roles.Validate(); err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	return &Issuer{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTokenLifetime,
		refreshTTL: cfg.RefreshTokenLifetime,
		roles:      roles,
		now:        time.Now,
	}, nil
}

func (i *Issuer) Roles() RoleNames { return i.roles }

func (i *Issuer) AccessTokenLifetime() time.Duration { return i.accessTTL }

func (i *Issuer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) IssueAccessToken(account *db.Account) (string, error) {
	role, err := i.roles.RoleFor(account.Kind)
	if err != nil {
		return "", err
	}

	claims := &AccessClaims{
		TokenType:        TokenTypeAccess,
		Email:            account.Email,
		Username:         account.Username,
		Role:             role,
		RegisteredClaims: i.registered(account.ID.String(), i.accessTTL),
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
}

// IssueRefreshToken returns the token string and its expiry. A random jti
// keeps tokens distinct even when issued within the same second.
func (i *Issuer) IssueRefreshToken(accountID uuid.UUID) (string, time.Time, error) {
	reg := i.registered(accountID.String(), i.refreshTTL)
	reg.ID = uuid.NewString()

	claims := &RefreshClaims{TokenType: TokenTypeRefresh, RegisteredClaims: reg}
	token, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, reg.ExpiresAt.Time, nil
}

func (i *Issuer) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
}

func (i *Issuer) keyFunc(*jwt.Token) (interface{}, error) {
	return i.secret, nil
}

func mapParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

// ParseAccessToken verifies algorithm, signature, expiry, issuer, audience and token type.
func (i *Issuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, err := i.parser().ParseWithClaims(tokenString, claims, i.keyFunc); err != nil {
		return nil, mapParseError(err)
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: token_type %q", ErrInvalidToken, claims.TokenType)
	}
	return claims, nil
}

func (i *Issuer) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if _, err := i.parser().ParseWithClaims(tokenString, claims, i.keyFunc); err != nil {
		return nil, mapParseError(err)
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: token_type %q", ErrInvalidToken, claims.TokenType)
	}
	return claims, nil
}
