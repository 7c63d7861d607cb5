package venues

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/httpx"
)

type VenueResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	Capacity  int       `json:"capacity"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ListResponse struct {
	Items  []VenueResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func NewVenueResponse(v *db.Venue) VenueResponse {
	resp := VenueResponse{
		ID:        v.ID.String(),
		OwnerID:   v.OwnerID.String(),
		Name:      v.Name,
		Address:   v.Address,
		City:      v.City,
		Capacity:  v.Capacity,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
	if v.PhotoKey != "" {
		resp.PhotoURL = "/api/v1/venues/" + v.ID.String() + "/photo"
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

// List handles GET /api/v1/venues?ownerId=&city=&limit=&offset=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}
	owner, err := httpx.QueryUUID(r, "ownerId")
	if err != nil {
		return err
	}
	return h.list(w, r, Query{
		OwnerID: owner,
		City:    strings.TrimSpace(r.URL.Query().Get("city")),
		Limit:   limit,
		Offset:  offset,
	})
}

// ListMine handles GET /api/v1/business-clients/me/venues.
func (h *Handlers) ListMine(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}
	return h.list(w, r, Query{
		OwnerID: uuid.NullUUID{UUID: p.ID, Valid: true},
		Limit:   limit,
		Offset:  offset,
	})
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, q Query) error {
	page, err := h.service.List(r.Context(), q)
	if err != nil {
		return err
	}
	items := make([]VenueResponse, len(page.Items))
	for i := range page.Items {
		items[i] = NewVenueResponse(&page.Items[i])
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Items: items, Total: page.Total, Limit: page.Limit, Offset: page.Offset})
	return nil
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	venue, err := h.service.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewVenueResponse(venue))
	return nil
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	venue, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/v1/venues/"+venue.ID.String())
	writeJSON(w, r, http.StatusCreated, NewVenueResponse(venue))
	return nil
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return err
	}
	venue, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewVenueResponse(venue))
	return nil
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	if err := h.service.Delete(r.Context(), p, id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// SetPhoto handles PUT /api/v1/venues/{id}/photo.
func (h *Handlers) SetPhoto(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	data, err := httpx.ReadImage(r)
	if err != nil {
		return err
	}
	venue, err := h.service.SetPhoto(r.Context(), p, id, data)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewVenueResponse(venue))
	return nil
}

func (h *Handlers) Photo(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	obj, err := h.service.OpenPhoto(r.Context(), id)
	if err != nil {
		return err
	}
	httpx.ServeObject(w, r, obj)
	return nil
}
