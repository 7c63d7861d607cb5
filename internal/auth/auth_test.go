package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/db/memdb"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/logger"
)

const testPassword = "Passw0rd!"

type countingMetrics struct {
	mu      sync.Mutex
	login   map[string]int
	refresh map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{login: map[string]int{}, refresh: map[string]int{}}
}

func (m *countingMetrics) RecordLogin(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.login[r]++
}

func (m *countingMetrics) RecordRefresh(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[r]++
}

func newTestService(t *testing.T, store db.Store) (*Service, *countingMetrics) {
	t.Helper()
	m := newCountingMetrics()
	return NewService(store, newTestIssuer(t), bcrypt.MinCost, logger.NewNop(), m), m
}

func registerJanek(t *testing.T, svc *Service) *db.Account {
	t.Helper()
	acc, err := svc.RegisterUser(context.Background(), RegisterInput{
		Email:    "Jan@X.com",
		Username: "Janek",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return acc
}

func TestHashToken(t *testing.T) {
	a := hashToken("token-a")
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	if a != hashToken("token-a") {
		t.Error("hash must be deterministic")
	}
	if a == hashToken("token-b") {
		t.Error("different tokens must hash differently")
	}
}

func TestRegister(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)

	acc := registerJanek(t, svc)
	if acc.Email != "jan@x.com" {
		t.Errorf("email should be normalized, got %q", acc.Email)
	}
	if acc.Kind != db.KindRegularUser {
		t.Errorf("kind = %q", acc.Kind)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(testPassword)) != nil {
		t.Error("password hash does not match")
	}

	_, err := svc.RegisterUser(context.Background(), RegisterInput{Email: "jan@x.com", Username: "Other", Password: testPassword})
	if appErr, ok := apperrors.As(err); !ok || appErr.Code != apperrors.CodeEmailExists {
		t.Errorf("duplicate email error = %v, want EMAIL_EXISTS", err)
	}

	_, err = svc.RegisterUser(context.Background(), RegisterInput{Email: "weak@x.com", Username: "Weak", Password: "password"})
	if apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("weak password error = %v, want ValidationError", err)
	}

	long := "Aa1" + strings.Repeat("x", 80)
	_, err = svc.RegisterUser(context.Background(), RegisterInput{Email: "long@x.com", Username: "Long", Password: long})
	if apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("83-byte password error = %v, want ValidationError", err)
	}
}

func TestRegisterBusinessClient(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())

	acc, err := svc.RegisterBusinessClient(context.Background(), RegisterBusinessInput{
		RegisterInput: RegisterInput{Email: "acme@x.com", Username: "Acme", Password: testPassword},
		TaxID:         "123-456-78-90",
	})
	if err != nil {
		t.Fatalf("RegisterBusinessClient: %v", err)
	}
	if acc.Kind != db.KindBusinessClient || acc.TaxID != "1234567890" {
		t.Errorf("got kind %q taxId %q", acc.Kind, acc.TaxID)
	}
}

func TestLogin_PersistsRefreshToken(t *testing.T) {
	store := memdb.New()
	svc, m := newTestService(t, store)
	acc := registerJanek(t, svc)

	pair, err := svc.Login(context.Background(), "jan@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Login returned empty tokens")
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("ExpiresIn = %d, want 900", pair.ExpiresIn)
	}

	rows, _ := store.RefreshTokens().ListForAccount(context.Background(), acc.ID)
	if len(rows) != 1 || rows[0].TokenHash != hashToken(pair.RefreshToken) {
		t.Errorf("expected one persisted row for the owner, got %+v", rows)
	}
	if m.login[ResultSuccess] != 1 {
		t.Errorf("login success count = %d", m.login[ResultSuccess])
	}
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	svc, m := newTestService(t, memdb.New())
	registerJanek(t, svc)

	_, unknownEmail := svc.Login(context.Background(), "nobody@x.com", testPassword)
	_, wrongPassword := svc.Login(context.Background(), "jan@x.com", "Wr0ngPassword")

	for name, err := range map[string]error{"unknown email": unknownEmail, "wrong password": wrongPassword} {
		appErr, ok := apperrors.As(err)
		if !ok {
			t.Fatalf("%s: error = %v, want *AppError", name, err)
		}
		if appErr.Message != "Invalid email or password." {
			t.Errorf("%s: message = %q", name, appErr.Message)
		}
	}

	a, _ := apperrors.As(unknownEmail)
	b, _ := apperrors.As(wrongPassword)
	if a.Code != b.Code || a.HTTPStatus != b.HTTPStatus || a.Type != b.Type {
		t.Errorf("failures differ: %+v vs %+v", a, b)
	}
	if m.login[ResultInvalid] != 2 {
		t.Errorf("invalid login count = %d, want 2", m.login[ResultInvalid])
	}
}

type unsavedTokens struct{ db.RefreshTokenStore }

func (unsavedTokens) Create(context.Context, *db.RefreshToken) error { return db.ErrTokenNotSaved }

type unsavedStore struct{ *memdb.Store }

func (s unsavedStore) RefreshTokens() db.RefreshTokenStore {
	return unsavedTokens{s.Store.RefreshTokens()}
}

func TestLogin_FailedRefreshTokenSave(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)
	registerJanek(t, svc)

	failing, m := newTestService(t, unsavedStore{store})
	_, err := failing.Login(context.Background(), "jan@x.com", testPassword)

	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.CodeFailedRefreshTokenSave {
		t.Fatalf("error = %v, want FAILED_REFRESH_TOKEN_SAVE", err)
	}
	if appErr.Code == apperrors.CodeInvalidCredentials {
		t.Error("save failure must be distinct from invalid credentials")
	}
	if m.login[ResultSaveFailed] != 1 {
		t.Errorf("save_failed count = %d", m.login[ResultSaveFailed])
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())

	for _, token := range []string{"", "never-issued"} {
		_, err := svc.Refresh(context.Background(), token)
		appErr, ok := apperrors.As(err)
		if !ok || appErr.Code != apperrors.CodeInvalidRefreshToken {
			t.Errorf("Refresh(%q) error = %v, want INVALID_REFRESH_TOKEN", token, err)
		}
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())
	registerJanek(t, svc)

	pair, err := svc.Login(context.Background(), "jan@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	if appErr, ok := apperrors.As(err); !ok || appErr.Code != apperrors.CodeInvalidRefreshToken {
		t.Errorf("error = %v, want INVALID_REFRESH_TOKEN", err)
	}
}

func TestRefresh_Rotates(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)
	acc := registerJanek(t, svc)

	first, err := svc.Login(context.Background(), "jan@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh must return a new refresh token")
	}

	rows, _ := store.RefreshTokens().ListForAccount(context.Background(), acc.ID)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want exactly the new one", len(rows))
	}
	if rows[0].TokenHash != hashToken(second.RefreshToken) {
		t.Error("persisted row should be the rotated token")
	}

	claims, err := svc.Issuer().ParseRefreshToken(second.RefreshToken)
	if err != nil {
		t.Fatalf("ParseRefreshToken: %v", err)
	}
	if claims.Subject != acc.ID.String() {
		t.Errorf("rotated token subject = %q, want %q", claims.Subject, acc.ID)
	}
}

func TestRefresh_OwnerDeleted(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)
	acc := registerJanek(t, svc)

	pair, _ := svc.Login(context.Background(), "jan@x.com", testPassword)
	if err := store.Accounts().Delete(context.Background(), acc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if appErr, ok := apperrors.As(err); !ok || appErr.Code != apperrors.CodeInvalidRefreshToken {
		t.Errorf("error = %v, want INVALID_REFRESH_TOKEN", err)
	}
}

func TestRefresh_ConcurrentRefreshOnlyOneWins(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())
	registerJanek(t, svc)
	pair, _ := svc.Login(context.Background(), "jan@x.com", testPassword)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Refresh(context.Background(), pair.RefreshToken)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if apperrors.TypeOf(err) != apperrors.TypeValidationError {
			t.Errorf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d concurrent refreshes succeeded, want 1", wins)
	}
}

func TestLogout_RevokesAllTokens(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)
	acc := registerJanek(t, svc)

	a, _ := svc.Login(context.Background(), "jan@x.com", testPassword)
	b, _ := svc.Login(context.Background(), "jan@x.com", testPassword)

	if err := svc.Logout(context.Background(), acc.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := svc.Refresh(context.Background(), tok); err == nil {
			t.Error("refresh after logout should fail")
		}
	}
}

func TestSweepExpired(t *testing.T) {
	store := memdb.New()
	svc, _ := newTestService(t, store)
	registerJanek(t, svc)

	if _, err := svc.Login(context.Background(), "jan@x.com", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	n, err := svc.SweepExpired(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("SweepExpired before expiry = %d, %v; want 0", n, err)
	}

	svc.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	n, err = svc.SweepExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired after expiry = %d, %v; want 1", n, err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())
	acc := registerJanek(t, svc)
	pair, _ := svc.Login(context.Background(), "jan@x.com", testPassword)

	p, err := svc.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ID != acc.ID || p.Kind != db.KindRegularUser || p.Role != "User" {
		t.Errorf("principal = %+v", p)
	}

	if _, err := svc.Authenticate(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}
}

// Register, log in, refresh, then replay the original refresh token.
func TestScenario_RegisterLoginRefreshReplay(t *testing.T) {
	svc, _ := newTestService(t, memdb.New())
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, RegisterInput{Email: "jan@x.com", Username: "Janek", Password: testPassword}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	login, err := svc.Login(ctx, "jan@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("refreshed token must differ from the original")
	}

	_, err = svc.Refresh(ctx, login.RefreshToken)
	if appErr, ok := apperrors.As(err); !ok || appErr.Code != apperrors.CodeInvalidRefreshToken {
		t.Errorf("replay error = %v, want INVALID_REFRESH_TOKEN", err)
	}

	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); err != nil {
		t.Errorf("latest token should still work: %v", err)
	}
}
