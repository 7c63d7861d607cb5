package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
)

type contextKey string

const principalKey contextKey = "principal"

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Middleware rejects requests without a valid access token with 401.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			tokenString, ok := BearerToken(r)
			if !ok {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing or malformed authorization header"))
				return
			}

			principal, err := authService.Authenticate(tokenString)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					apperrors.WriteError(w, requestID, apperrors.InvalidToken("access token has expired"))
					return
				}
				apperrors.WriteError(w, requestID, apperrors.InvalidToken("invalid access token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireKind answers 403 when the authenticated account is of another kind.
func RequireKind(kind db.AccountKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.Unauthorized("not authenticated"))
				return
			}
			if principal.Kind != kind {
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.Forbidden("this operation is not available for your account type"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// RequirePrincipal is PrincipalFromContext for handlers behind Middleware.
func RequirePrincipal(ctx context.Context) (*Principal, error) {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return nil, apperrors.Unauthorized("not authenticated")
	}
	return p, nil
}
