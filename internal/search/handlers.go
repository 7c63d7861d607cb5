// Package search serves free-text lookups over events and venues.
package search

import (
	"net/http"
	"strings"
	"unicode/utf8"

	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/httpx"
	"github.com/gatherly/backend/internal/venues"
)

const (
	minQueryLength = 2
	maxQueryLength = 100
)

type Handlers struct {
	events *events.Service
	venues *venues.Service
}

func NewHandlers(eventService *events.Service, venueService *venues.Service) *Handlers {
	return &Handlers{events: eventService, venues: venueService}
}

// query reads q, collapsing whitespace.
func query(r *http.Request) (string, error) {
	q := strings.Join(strings.Fields(r.URL.Query().Get("q")), " ")
	if q == "" {
		return "", apperrors.ValidationError("The parameter 'q' is required.")
	}
	if n := utf8.RuneCountInString(q); n < minQueryLength || n > maxQueryLength {
		return "", apperrors.ValidationError("The parameter 'q' must be between 2 and 100 characters long.")
	}
	return q, nil
}

// SearchEvents handles GET /api/v1/search/events?q=&upcoming=
func (h *Handlers) SearchEvents(w http.ResponseWriter, r *http.Request) error {
	q, err := query(r)
	if err != nil {
		return err
	}
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}

	page, err := h.events.List(r.Context(), events.Query{
		Text:     q,
		Upcoming: r.URL.Query().Get("upcoming") == "true",
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, events.ListResponse{
		Items:  events.NewEventResponses(page.Items),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	return nil
}

// SearchVenues handles GET /api/v1/search/venues?q=&city=
func (h *Handlers) SearchVenues(w http.ResponseWriter, r *http.Request) error {
	q, err := query(r)
	if err != nil {
		return err
	}
	limit, offset, err := httpx.Page(r)
	if err != nil {
		return err
	}

	page, err := h.venues.List(r.Context(), venues.Query{
		Text:   q,
		City:   strings.TrimSpace(r.URL.Query().Get("city")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return err
	}

	items := make([]venues.VenueResponse, len(page.Items))
	for i := range page.Items {
		items[i] = venues.NewVenueResponse(&page.Items[i])
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, venues.ListResponse{
		Items:  items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	return nil
}
