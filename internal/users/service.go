// Package users serves the authenticated account's own profile.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/cache"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/hobbies"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/validators"
)

// UpdateInput changes only the fields that are present.
type UpdateInput struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	TaxID    *string `json:"taxId" validate:"omitempty,taxid"`
}

type HobbiesInput struct {
	Hobbies []string `json:"hobbies"`
}

type Profile struct {
	Account *db.Account
	Hobbies []db.Hobby
}

type Service struct {
	store   db.Store
	hobbies *hobbies.Service
	// events caches entries that change when an account goes away.
	events *cache.Cache
	log    *logger.Logger
	now    func() time.Time
}

func NewService(store db.Store, hobbyService *hobbies.Service, eventCache *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:   store,
		hobbies: hobbyService,
		events:  eventCache,
		log:     log.WithComponent("users"),
		now:     time.Now,
	}
}

// account maps a vanished account to 401: the token outlived its owner.
func account(ctx context.Context, store db.Store, p *auth.Principal) (*db.Account, error) {
	a, err := store.Accounts().GetByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, apperrors.Unauthorized("account no longer exists")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) Profile(ctx context.Context, p *auth.Principal) (*Profile, error) {
	a, err := account(ctx, s.store, p)
	if err != nil {
		return nil, err
	}
	profile := &Profile{Account: a}
	if a.Kind == db.KindRegularUser {
		hs, err := s.hobbies.ForAccount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		profile.Hobbies = append([]db.Hobby{}, hs...)
	}
	return profile, nil
}

func (s *Service) UpdateProfile(ctx context.Context, p *auth.Principal, in UpdateInput) (*Profile, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		a, err := account(ctx, tx, p)
		if err != nil {
			return err
		}
		if in.TaxID != nil && a.Kind != db.KindBusinessClient {
			return apperrors.ValidationError("The field 'taxId' is only allowed for business clients.")
		}

		if in.Username != nil {
			a.Username = strings.TrimSpace(*in.Username)
		}
		if in.Email != nil {
			a.Email = auth.NormalizeEmail(*in.Email)
		}
		if in.TaxID != nil {
			a.TaxID = validators.NormalizeTaxID(*in.TaxID)
		}
		a.UpdatedAt = s.now().UTC()

		if err := tx.Accounts().Update(ctx, a); err != nil {
			if errors.Is(err, db.ErrEmailExists) {
				return apperrors.EmailExists()
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "profile updated", map[string]interface{}{"account_id": p.ID.String()})
	return s.Profile(ctx, p)
}

// SetHobbies replaces the regular user's hobby tags.
func (s *Service) SetHobbies(ctx context.Context, p *auth.Principal, names []string) ([]db.Hobby, error) {
	if p.Kind != db.KindRegularUser {
		return nil, apperrors.Forbidden("Only regular users have hobbies.")
	}
	if _, err := account(ctx, s.store, p); err != nil {
		return nil, err
	}
	return s.hobbies.Replace(ctx, p.ID, names)
}

// DeleteAccount removes the account. Refresh tokens, venues and signups go
// with it; organized events stay without an organizer.
func (s *Service) DeleteAccount(ctx context.Context, p *auth.Principal) error {
	var touched []uuid.UUID
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		touched, err = affectedEvents(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := tx.Accounts().Delete(ctx, p.ID); err != nil {
			if errors.Is(err, db.ErrAccountNotFound) {
				return apperrors.NotFound("account")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(touched) > 0 {
		keys := make([]string, len(touched))
		for i, id := range touched {
			keys[i] = events.CacheKey(id)
		}
		if err := s.events.Delete(ctx, keys...); err != nil {
			s.log.Warn(ctx, "cache invalidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.log.Info(ctx, "account deleted", map[string]interface{}{"account_id": p.ID.String()})
	return nil
}

// affectedEvents lists the events whose cached form changes when the account
// is deleted: the ones it organizes and the ones it signed up for.
func affectedEvents(ctx context.Context, tx db.Store, accountID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	filter := db.EventFilter{OrganizerID: uuid.NullUUID{UUID: accountID, Valid: true}, Limit: 100}
	for {
		page, total, err := tx.Events().List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			ids = append(ids, e.ID)
		}
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}

	signedUp, err := tx.Signups().ListEventsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, e := range signedUp {
		ids = append(ids, e.ID)
	}
	return ids, nil
}
