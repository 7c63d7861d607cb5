package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/validators"
)

// Outcome labels reported to Metrics.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultSaveFailed  = "save_failed"
	ResultServerError = "error"
)

// Metrics receives login and refresh outcomes.
type Metrics interface {
	RecordLogin(result string)
	RecordRefresh(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordLogin(string)   {}
func (nopMetrics) RecordRefresh(string) {}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,password"`
}

type RegisterBusinessInput struct {
	RegisterInput
	TaxID string `json:"taxId" validate:"required,taxid"`
}

// Principal is the authenticated caller reconstructed from an access token.
type Principal struct {
	ID       uuid.UUID
	Email    string
	Username string
	Role     string
	Kind     db.AccountKind
}

type Service struct {
	store      db.Store
	issuer     *Issuer
	bcryptCost int
	metrics    Metrics
	log        *logger.Logger
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(store db.Store, issuer *Issuer, bcryptCost int, log *logger.Logger, m Metrics) *Service {
	if m == nil {
		m = nopMetrics{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		store:      store,
		issuer:     issuer,
		bcryptCost: bcryptCost,
		metrics:    m,
		log:        log.WithComponent("auth"),
		now:        time.Now,
	}
}

func (s *Service) Issuer() *Issuer { return s.issuer }

// NormalizeEmail is the single case rule for stored and looked-up emails.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) RegisterUser(ctx context.Context, in RegisterInput) (*db.Account, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}
	return s.register(ctx, db.KindRegularUser, in, "")
}

func (s *Service) RegisterBusinessClient(ctx context.Context, in RegisterBusinessInput) (*db.Account, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}
	return s.register(ctx, db.KindBusinessClient, in.RegisterInput, validators.NormalizeTaxID(in.TaxID))
}

func (s *Service) register(ctx context.Context, kind db.AccountKind, in RegisterInput, taxID string) (*db.Account, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := &db.Account{
		ID:           uuid.New(),
		Kind:         kind,
		Email:        NormalizeEmail(in.Email),
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: string(passwordHash),
		TaxID:        taxID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return nil, apperrors.EmailExists()
		}
		return nil, err
	}

	s.log.Info(ctx, "account registered", map[string]interface{}{
		"account_id": account.ID.String(),
		"kind":       string(kind),
	})
	return account, nil
}

// Login never tells the caller whether the email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	account, err := s.store.Accounts().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			// Burn the same bcrypt time as a real comparison.
			bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			s.metrics.RecordLogin(ResultInvalid)
			return nil, apperrors.InvalidCredentials()
		}
		s.metrics.RecordLogin(ResultServerError)
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.metrics.RecordLogin(ResultInvalid)
		return nil, apperrors.InvalidCredentials()
	}

	pair, err := s.issuePair(ctx, s.store, account)
	if err != nil {
		s.metrics.RecordLogin(resultFor(err))
		return nil, err
	}

	s.metrics.RecordLogin(ResultSuccess)
	return pair, nil
}

// Refresh rotates a refresh token: the presented row is deleted and a new
// pair for the same owner is persisted in the same transaction.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.RecordRefresh(ResultInvalid)
		return nil, apperrors.InvalidRefreshToken()
	}

	var pair *TokenPair
	err := s.store.InTx(ctx, func(tx db.Store) error {
		old, err := tx.RefreshTokens().Consume(ctx, hashToken(refreshToken), s.now())
		if err != nil {
			if errors.Is(err, db.ErrTokenNotFound) {
				return apperrors.InvalidRefreshToken()
			}
			return err
		}

		account, err := tx.Accounts().GetByID(ctx, old.AccountID)
		if err != nil {
			if errors.Is(err, db.ErrAccountNotFound) {
				return apperrors.InvalidRefreshToken()
			}
			return err
		}

		pair, err = s.issuePair(ctx, tx, account)
		return err
	})
	if err != nil {
		s.metrics.RecordRefresh(resultFor(err))
		return nil, err
	}

	s.metrics.RecordRefresh(ResultSuccess)
	return pair, nil
}

// Logout deletes every refresh token of the account.
func (s *Service) Logout(ctx context.Context, accountID uuid.UUID) error {
	n, err := s.store.RefreshTokens().DeleteForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "account logged out", map[string]interface{}{
		"account_id":     accountID.String(),
		"revoked_tokens": n,
	})
	return nil
}

// SweepExpired removes refresh tokens that can no longer be used.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens().DeleteExpired(ctx, s.now())
}

// Authenticate turns an access token into a Principal without touching storage.
func (s *Service) Authenticate(accessToken string) (*Principal, error) {
	claims, err := s.issuer.ParseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	kind, ok := s.issuer.Roles().KindFor(claims.Role)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &Principal{
		ID:       id,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
		Kind:     kind,
	}, nil
}

func (s *Service) issuePair(ctx context.Context, store db.Store, account *db.Account) (*TokenPair, error) {
	accessToken, err := s.issuer.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	refreshToken, expiresAt, err := s.issuer.IssueRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}

	err = store.RefreshTokens().Create(ctx, &db.RefreshToken{
		ID:        uuid.New(),
		AccountID: account.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, db.ErrTokenNotSaved) {
			s.log.Warn(ctx, "refresh token insert affected no rows", map[string]interface{}{
				"account_id": account.ID.String(),
			})
			return nil, apperrors.FailedRefreshTokenSave()
		}
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.issuer.AccessTokenLifetime().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	return s.dummyHash
}

func resultFor(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if appErr, ok := apperrors.As(err); ok {
		switch {
		case appErr.Code == apperrors.CodeFailedRefreshTokenSave:
			return ResultSaveFailed
		case appErr.Type == apperrors.TypeValidationError:
			return ResultInvalid
		}
	}
	return ResultServerError
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
