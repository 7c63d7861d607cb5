package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/httpx"
)

// EventResponse is the public view of an event.
type EventResponse struct {
	ID          string    `json:"id"`
	OrganizerID *string   `json:"organizerId"`
	VenueID     *string   `json:"venueId"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Capacity    int       `json:"capacity"`
	SignupCount int       `json:"signupCount"`
	CoverURL    string    `json:"coverUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ListResponse struct {
	Items  []EventResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func optionalID(id uuid.NullUUID) *string {
	if !id.Valid {
		return nil
	}
	s := id.UUID.String()
	return &s
}

func NewEventResponse(e *db.Event) EventResponse {
	resp := EventResponse{
		ID:          e.ID.String(),
		OrganizerID: optionalID(e.OrganizerID),
		VenueID:     optionalID(e.VenueID),
		Title:       e.Title,
		Slug:        e.Slug,
		Description: e.Description,
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
		Capacity:    e.Capacity,
		SignupCount: e.SignupCount,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.CoverKey != "" {
		resp.CoverURL = "/api/v1/events/" + e.ID.String() + "/cover"
	}
	return resp
}

func NewEventResponses(es []db.Event) []EventResponse {
	out := make([]EventResponse, len(es))
	for i := range es {
		out[i] = NewEventResponse(&es[i])
	}
	return out
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

// List handles GET /api/v1/events?organizerId=&venueId=&upcoming=&limit=&offset=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}
	organizer, err := httpx.QueryUUID(r, "organizerId")
	if err != nil {
		return err
	}
	venue, err := httpx.QueryUUID(r, "venueId")
	if err != nil {
		return err
	}
	upcoming := false
	if raw := r.URL.Query().Get("upcoming"); raw != "" {
		upcoming, err = strconv.ParseBool(raw)
		if err != nil {
			return apperrors.ValidationError("The parameter 'upcoming' must be true or false.")
		}
	}

	page, err := h.service.List(r.Context(), Query{
		OrganizerID: organizer,
		VenueID:     venue,
		Upcoming:    upcoming,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return err
	}

	writeJSON(w, r, http.StatusOK, ListResponse{
		Items:  NewEventResponses(page.Items),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	return nil
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	event, err := h.service.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewEventResponse(event))
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
	event, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/v1/events/"+event.ID.String())
	writeJSON(w, r, http.StatusCreated, NewEventResponse(event))
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
	event, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewEventResponse(event))
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

// ListMine handles GET /api/v1/users/me/events.
func (h *Handlers) ListMine(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}
	page, err := h.service.List(r.Context(), Query{
		OrganizerID: uuid.NullUUID{UUID: p.ID, Valid: true},
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, ListResponse{
		Items:  NewEventResponses(page.Items),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	return nil
}

// DeleteMine handles DELETE /api/v1/users/me/events.
func (h *Handlers) DeleteMine(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	n, err := h.service.DeleteAllForOrganizer(r.Context(), p)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, map[string]int64{"deleted": n})
	return nil
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	event, err := h.service.SignUp(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusCreated, NewEventResponse(event))
	return nil
}

func (h *Handlers) CancelSignUp(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	if err := h.service.CancelSignUp(r.Context(), p, id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// ListSignups handles GET /api/v1/users/me/signups.
func (h *Handlers) ListSignups(w http.ResponseWriter, r *http.Request) error {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return err
	}
	events, err := h.service.ListSignups(r.Context(), p)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": NewEventResponses(events)})
	return nil
}

// SetCover handles PUT /api/v1/events/{id}/cover.
func (h *Handlers) SetCover(w http.ResponseWriter, r *http.Request) error {
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
	event, err := h.service.SetCover(r.Context(), p, id, data)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, NewEventResponse(event))
	return nil
}

// Cover handles GET /api/v1/events/{id}/cover.
func (h *Handlers) Cover(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.PathID(r, resource)
	if err != nil {
		return err
	}
	obj, err := h.service.OpenCover(r.Context(), id)
	if err != nil {
		return err
	}
	httpx.ServeObject(w, r, obj)
	return nil
}
