package auth

import (
	"net/http"
	"time"

	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/httpx"
	"github.com/gatherly/backend/internal/validators"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	TaxID     string    `json:"taxId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewAccountResponse(a *db.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Kind:      string(a.Kind),
		Email:     a.Email,
		Username:  a.Username,
		TaxID:     a.TaxID,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type Handlers struct {
	authService *Service
}

func NewHandlers(authService *Service) *Handlers {
	return &Handlers{authService: authService}
}

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) error {
	var req RegisterInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	account, err := h.authService.RegisterUser(r.Context(), req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, NewAccountResponse(account))
	return nil
}

func (h *Handlers) RegisterBusinessClient(w http.ResponseWriter, r *http.Request) error {
	var req RegisterBusinessInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}

	account, err := h.authService.RegisterBusinessClient(r.Context(), req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, NewAccountResponse(account))
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	if err := validators.Struct(&req); err != nil {
		return err
	}

	pair, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, pair)
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return err
	}
	if err := validators.Struct(&req); err != nil {
		return err
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, pair)
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	principal, err := RequirePrincipal(r.Context())
	if err != nil {
		return err
	}

	if err := h.authService.Logout(r.Context(), principal.ID); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
