// Package venues lets business clients manage the places events happen at.
package venues

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/cache"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/ownership"
	"github.com/gatherly/backend/internal/storage"
	"github.com/gatherly/backend/internal/validators"
)

const resource = "venue"

type Input struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Address  string `json:"address" validate:"required,max=255"`
	City     string `json:"city" validate:"required,max=120"`
	Capacity int    `json:"capacity" validate:"gte=0,lte=100000"`
}

type Query struct {
	OwnerID uuid.NullUUID
	City    string
	Text    string
	Limit   int
	Offset  int
}

type Page struct {
	Items  []db.Venue
	Total  int
	Limit  int
	Offset int
}

type Service struct {
	store  db.Store
	images storage.ImageStore
	// cache holds events; deleting a venue detaches them.
	cache *cache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store db.Store, images storage.ImageStore, eventCache *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:  store,
		images: images,
		cache:  eventCache,
		log:    log.WithComponent("venues"),
		now:    time.Now,
	}
}

func gate(store db.Store) ownership.Gate[*db.Venue] {
	return ownership.Gate[*db.Venue]{
		Resource: resource,
		Lookup:   store.Venues().GetByID,
		OwnerOf: func(v *db.Venue) (uuid.UUID, bool) {
			return v.OwnerID, v.OwnerID != uuid.Nil
		},
		IsNotFound: ownership.NotFoundIs(db.ErrVenueNotFound),
	}
}

// Create registers a venue owned by the principal. Callers are limited to
// business clients by the router.
func (s *Service) Create(ctx context.Context, p *auth.Principal, in Input) (*db.Venue, error) {
	if p.Kind != db.KindBusinessClient {
		return nil, apperrors.Forbidden("Only business clients can create venues.")
	}
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}

	venue := &db.Venue{
		ID:       uuid.New(),
		OwnerID:  p.ID,
		Name:     in.Name,
		Address:  in.Address,
		City:     in.City,
		Capacity: in.Capacity,
	}
	venue.CreatedAt = s.now().UTC()
	venue.UpdatedAt = venue.CreatedAt
	if err := s.store.Venues().Create(ctx, venue); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, apperrors.Unauthorized("account no longer exists")
		}
		return nil, err
	}

	s.log.Info(ctx, "venue created", map[string]interface{}{"venue_id": venue.ID.String(), "owner_id": p.ID.String()})
	return venue, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*db.Venue, error) {
	venue, err := s.store.Venues().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrVenueNotFound) {
			return nil, apperrors.NotFound(resource)
		}
		return nil, err
	}
	return venue, nil
}

func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	items, total, err := s.store.Venues().List(ctx, db.VenueFilter{
		OwnerID: q.OwnerID,
		City:    q.City,
		Text:    q.Text,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, in Input) (*db.Venue, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}

	var venue *db.Venue
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		venue, err = gate(tx).Require(ctx, id, p.ID)
		if err != nil {
			return err
		}
		venue.Name = in.Name
		venue.Address = in.Address
		venue.City = in.City
		venue.Capacity = in.Capacity
		venue.UpdatedAt = s.now().UTC()
		return tx.Venues().Update(ctx, venue)
	})
	if err != nil {
		return nil, err
	}
	return venue, nil
}

// Delete removes the venue. Events held there stay, without a venue.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	var detached []uuid.UUID
	err := s.store.InTx(ctx, func(tx db.Store) error {
		if _, err := gate(tx).Require(ctx, id, p.ID); err != nil {
			return err
		}

		filter := db.EventFilter{VenueID: uuid.NullUUID{UUID: id, Valid: true}, Limit: 100}
		for {
			page, total, err := tx.Events().List(ctx, filter)
			if err != nil {
				return err
			}
			for _, e := range page {
				detached = append(detached, e.ID)
			}
			filter.Offset += len(page)
			if len(page) == 0 || filter.Offset >= total {
				break
			}
		}

		return tx.Venues().Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if len(detached) > 0 {
		keys := make([]string, len(detached))
		for i, eid := range detached {
			keys[i] = events.CacheKey(eid)
		}
		if err := s.cache.Delete(ctx, keys...); err != nil {
			s.log.Warn(ctx, "cache invalidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.log.Info(ctx, "venue deleted", map[string]interface{}{"venue_id": id.String(), "detached_events": len(detached)})
	return nil
}

// SetPhoto stores an image and attaches it to a venue the principal owns.
func (s *Service) SetPhoto(ctx context.Context, p *auth.Principal, id uuid.UUID, image []byte) (*db.Venue, error) {
	if s.images == nil {
		return nil, apperrors.StorageError("image storage is not configured")
	}
	if _, err := gate(s.store).Require(ctx, id, p.ID); err != nil {
		return nil, err
	}

	key, err := s.images.Save(ctx, image)
	if err != nil {
		return nil, err
	}

	var venue *db.Venue
	err = s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		venue, err = gate(tx).Require(ctx, id, p.ID)
		if err != nil {
			return err
		}
		venue.PhotoKey = key
		venue.UpdatedAt = s.now().UTC()
		return tx.Venues().Update(ctx, venue)
	})
	if err != nil {
		return nil, err
	}
	return venue, nil
}

func (s *Service) OpenPhoto(ctx context.Context, id uuid.UUID) (*storage.Object, error) {
	venue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if venue.PhotoKey == "" || s.images == nil {
		return nil, apperrors.NotFound("photo")
	}

	obj, err := s.images.Open(ctx, venue.PhotoKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NotFound("photo")
		}
		return nil, apperrors.StorageError("failed to open photo").WithCause(err)
	}
	return obj, nil
}
