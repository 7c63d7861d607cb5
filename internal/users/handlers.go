package users

import (
	"net/http"

	"github.com/gatherly/backend/internal/auth"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/hobbies"
	"github.com/gatherly/backend/internal/httpx"
)

type ProfileResponse struct {
	auth.AccountResponse
	Hobbies []hobbies.HobbyResponse `json:"hobbies,omitzero"`
}

func NewProfileResponse(p *Profile) ProfileResponse {
	resp := ProfileResponse{AccountResponse: auth.NewAccountResponse(p.Account)}
	if p.Hobbies != nil {
		resp.Hobbies = hobbies.NewHobbyResponses(p.Hobbies)
	}
	return resp
}

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, v)
}

// Me handles GET /api/v1/users/me and GET /api/v1/business-clients/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	profile, err := h.service.Profile(r.Context(), p)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewProfileResponse(profile))
	return nil
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	profile, err := h.service.UpdateProfile(r.Context(), p, in)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewProfileResponse(profile))
	return nil
}

func (h *Handlers) DeleteMe(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	if err := h.service.DeleteAccount(r.Context(), p); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// SetHobbies handles PUT /api/v1/users/me/hobbies.
func (h *Handlers) SetHobbies(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	var in HobbiesInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	hs, err := h.service.SetHobbies(r.Context(), p, in.Hobbies)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"hobbies": hobbies.NewHobbyResponses(hs)})
	return nil
}
