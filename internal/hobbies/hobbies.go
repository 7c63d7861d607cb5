// Package hobbies normalizes hobby tags and assigns them to accounts.
package hobbies

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
)

const (
	MaxPerAccount = 20
	MaxNameLength = 50
)

var folder = cases.Fold()

// Normalize trims, collapses inner whitespace, case-folds and NFC-normalizes
// a tag so "  Board   GAMES" and "board games" are the same hobby.
func Normalize(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", apperrors.ValidationError("Hobby name must not be empty.")
	}
	name = norm.NFC.String(folder.String(name))
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperrors.ValidationError(fmt.Sprintf("Hobby name must be at most %d characters.", MaxNameLength))
	}
	return name, nil
}

// NormalizeAll normalizes and dedupes names, keeping first-seen order.
func NormalizeAll(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		normalized, err := Normalize(n)
		if err != nil {
			return nil, err
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	if len(out) > MaxPerAccount {
		return nil, apperrors.ValidationError(fmt.Sprintf("At most %d hobbies are allowed.", MaxPerAccount))
	}
	return out, nil
}

type Service struct {
	store db.Store
}

func NewService(store db.Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context) ([]db.Hobby, error) {
	return s.store.Hobbies().List(ctx)
}

func (s *Service) ForAccount(ctx context.Context, accountID uuid.UUID) ([]db.Hobby, error) {
	return s.store.Hobbies().ListForAccount(ctx, accountID)
}

// Replace sets the account's hobbies to exactly names, creating unknown tags.
func (s *Service) Replace(ctx context.Context, accountID uuid.UUID, names []string) ([]db.Hobby, error) {
	normalized, err := NormalizeAll(names)
	if err != nil {
		return nil, err
	}

	var result []db.Hobby
	err = s.store.InTx(ctx, func(tx db.Store) error {
		ids := make([]int64, 0, len(normalized))
		for _, name := range normalized {
			h, err := tx.Hobbies().Ensure(ctx, name)
			if err != nil {
				return fmt.Errorf("ensure hobby %q: %w", name, err)
			}
			ids = append(ids, h.ID)
		}
		if err := tx.Hobbies().SetForAccount(ctx, accountID, ids); err != nil {
			return err
		}
		result, err = tx.Hobbies().ListForAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type HobbyResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func NewHobbyResponses(hs []db.Hobby) []HobbyResponse {
	out := make([]HobbyResponse, len(hs))
	for i, h := range hs {
		out[i] = HobbyResponse{ID: h.ID, Name: h.Name}
	}
	return out
}

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// List handles GET /api/v1/hobbies.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	hs, err := h.service.List(r.Context())
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"items": NewHobbyResponses(hs),
	})
	return nil
}
