// Package events implements event management and signups.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/cache"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/notify"
	"github.com/gatherly/backend/internal/ownership"
	"github.com/gatherly/backend/internal/storage"
	"github.com/gatherly/backend/internal/validators"
)

const (
	resource = "event"

	DefaultCacheTTL = 5 * time.Minute
	deletePageSize  = 100

	// MaxSlugLength matches the events.slug column.
	MaxSlugLength = 140
)

// Input is the body of create and update requests.
type Input struct {
	Title       string     `json:"title" validate:"required,min=3,max=120"`
	Description string     `json:"description" validate:"max=5000"`
	StartsAt    time.Time  `json:"startsAt" validate:"required"`
	EndsAt      time.Time  `json:"endsAt" validate:"required,gtfield=StartsAt"`
	Capacity    int        `json:"capacity" validate:"gte=0,lte=100000"`
	VenueID     *uuid.UUID `json:"venueId"`
}

// Query narrows List.
type Query struct {
	OrganizerID uuid.NullUUID
	VenueID     uuid.NullUUID
	// Upcoming keeps only events that have not ended yet.
	Upcoming bool
	Text     string
	Limit    int
	Offset   int
}

type Page struct {
	Items  []db.Event
	Total  int
	Limit  int
	Offset int
}

type Config struct {
	Cache    *cache.Cache
	CacheTTL time.Duration
	Notifier notify.Notifier
	Images   storage.ImageStore
	Logger   *logger.Logger
}

type Service struct {
	store    db.Store
	cache    *cache.Cache
	cacheTTL time.Duration
	notifier notify.Notifier
	images   storage.ImageStore
	log      *logger.Logger
	now      func() time.Time
}

func NewService(store db.Store, cfg Config) *Service {
	s := &Service{
		store:    store,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		notifier: cfg.Notifier,
		images:   cfg.Images,
		log:      cfg.Logger,
		now:      time.Now,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = DefaultCacheTTL
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	s.log = s.log.WithComponent("events")
	return s
}

func gate(store db.Store) ownership.Gate[*db.Event] {
	return ownership.Gate[*db.Event]{
		Resource: resource,
		Lookup:   store.Events().GetByID,
		OwnerOf: func(e *db.Event) (uuid.UUID, bool) {
			return e.OrganizerID.UUID, e.OrganizerID.Valid
		},
		IsNotFound: ownership.NotFoundIs(db.ErrEventNotFound),
	}
}

// CacheKey is the cache entry of a single event.
func CacheKey(id uuid.UUID) string {
	return "event:" + id.String()
}

func (s *Service) invalidate(ctx context.Context, ids ...uuid.UUID) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = CacheKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn(ctx, "cache invalidation failed", map[string]interface{}{"error": err.Error()})
	}
}

// notify never fails the caller.
func (s *Service) notify(ctx context.Context, ns []notify.Notification) {
	if len(ns) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, ns...); err != nil {
		s.log.Error(ctx, "failed to send notifications", err, map[string]interface{}{
			"count": len(ns),
			"kind":  string(ns[0].Kind),
		})
	}
}

// makeSlug transliterates the title and cuts it to MaxSlugLength, on a word
// boundary when there is one. Transliteration can grow a title several
// times over ("æ" is "ae", "&" is "and").
func makeSlug(title string) string {
	sl := slug.Make(title)
	if len(sl) <= MaxSlugLength {
		return sl
	}
	// slug output is ASCII, so byte offsets are rune offsets.
	cut := sl[:MaxSlugLength]
	if i := strings.LastIndexByte(cut, '-'); i > 0 && sl[MaxSlugLength] != '-' {
		cut = cut[:i]
	}
	return strings.Trim(cut, "-_")
}

func venueRef(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func venueMissing(err error) error {
	if errors.Is(err, db.ErrVenueNotFound) {
		return apperrors.ValidationError("Venue does not exist.")
	}
	return err
}

// accountGone is returned when a still-valid access token outlives its account.
func accountGone() error {
	return apperrors.Unauthorized("account no longer exists")
}

func checkVenue(ctx context.Context, store db.Store, ref uuid.NullUUID) error {
	if !ref.Valid {
		return nil
	}
	_, err := store.Venues().GetByID(ctx, ref.UUID)
	return venueMissing(err)
}

// Create stores a new event organized by the principal.
func (s *Service) Create(ctx context.Context, p *auth.Principal, in Input) (*db.Event, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	event := &db.Event{
		ID:          uuid.New(),
		OrganizerID: uuid.NullUUID{UUID: p.ID, Valid: true},
		VenueID:     venueRef(in.VenueID),
		Title:       in.Title,
		Slug:        makeSlug(in.Title),
		Description: in.Description,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Capacity:    in.Capacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.InTx(ctx, func(tx db.Store) error {
		if err := checkVenue(ctx, tx, event.VenueID); err != nil {
			return err
		}
		err := tx.Events().Create(ctx, event)
		if errors.Is(err, db.ErrAccountNotFound) {
			return accountGone()
		}
		return venueMissing(err)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "event created", map[string]interface{}{"event_id": event.ID.String(), "organizer_id": p.ID.String()})
	return event, nil
}

// Get returns one event, served from the cache when possible.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	var cached db.Event
	if s.cache.GetJSON(ctx, CacheKey(id), &cached) {
		return &cached, nil
	}

	event, err := s.store.Events().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrEventNotFound) {
			return nil, apperrors.NotFound(resource)
		}
		return nil, err
	}

	s.cache.SetJSON(ctx, CacheKey(id), event, s.cacheTTL)
	return event, nil
}

func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	filter := db.EventFilter{
		OrganizerID: q.OrganizerID,
		VenueID:     q.VenueID,
		Text:        q.Text,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if q.Upcoming {
		filter.EndsAfter = s.now().UTC()
	}

	items, total, err := s.store.Events().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Update replaces the event's details. Only the organizer may update it;
// signed-up accounts are notified.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, in Input) (*db.Event, error) {
	if err := validators.Struct(&in); err != nil {
		return nil, err
	}

	var event *db.Event
	var attendees []uuid.UUID
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		event, err = gate(tx).Require(ctx, id, p.ID)
		if err != nil {
			return err
		}

		if in.Capacity > 0 && in.Capacity < event.SignupCount {
			return apperrors.ValidationError(fmt.Sprintf("Capacity cannot be lower than the %d existing signups.", event.SignupCount))
		}

		event.VenueID = venueRef(in.VenueID)
		if err := checkVenue(ctx, tx, event.VenueID); err != nil {
			return err
		}

		event.Title = in.Title
		event.Slug = makeSlug(in.Title)
		event.Description = in.Description
		event.StartsAt = in.StartsAt.UTC()
		event.EndsAt = in.EndsAt.UTC()
		event.Capacity = in.Capacity
		event.UpdatedAt = s.now().UTC()

		if err := tx.Events().Update(ctx, event); err != nil {
			return venueMissing(err)
		}

		attendees, err = tx.Signups().ListAccountIDs(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.notify(ctx, notify.Fanout(notify.KindEventUpdated, attendees, event.ID, event.Title, p.ID))
	return event, nil
}

// Delete removes an event the principal organizes and notifies attendees.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	var event *db.Event
	var attendees []uuid.UUID
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		event, err = gate(tx).Require(ctx, id, p.ID)
		if err != nil {
			return err
		}
		attendees, err = tx.Signups().ListAccountIDs(ctx, id)
		if err != nil {
			return err
		}
		return tx.Events().Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.notify(ctx, notify.Fanout(notify.KindEventCancelled, attendees, event.ID, event.Title, p.ID))
	s.log.Info(ctx, "event deleted", map[string]interface{}{"event_id": id.String()})
	return nil
}

// DeleteAllForOrganizer deletes every event the principal organizes. Account
// deletion only detaches events; this is the explicit way to remove them.
func (s *Service) DeleteAllForOrganizer(ctx context.Context, p *auth.Principal) (int64, error) {
	var ids []uuid.UUID
	var ns []notify.Notification
	var deleted int64

	err := s.store.InTx(ctx, func(tx db.Store) error {
		filter := db.EventFilter{
			OrganizerID: uuid.NullUUID{UUID: p.ID, Valid: true},
			Limit:       deletePageSize,
		}
		for {
			page, total, err := tx.Events().List(ctx, filter)
			if err != nil {
				return err
			}
			for _, e := range page {
				ids = append(ids, e.ID)
				attendees, err := tx.Signups().ListAccountIDs(ctx, e.ID)
				if err != nil {
					return err
				}
				ns = append(ns, notify.Fanout(notify.KindEventCancelled, attendees, e.ID, e.Title, p.ID)...)
			}
			filter.Offset += len(page)
			if len(page) == 0 || filter.Offset >= total {
				break
			}
		}

		var err error
		deleted, err = tx.Events().DeleteByOrganizer(ctx, p.ID)
		return err
	})
	if err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		s.invalidate(ctx, ids...)
	}
	s.notify(ctx, ns)
	s.log.Info(ctx, "organizer events deleted", map[string]interface{}{"organizer_id": p.ID.String(), "count": deleted})
	return deleted, nil
}

// SignUp registers a regular user for an event that has not ended and has room.
func (s *Service) SignUp(ctx context.Context, p *auth.Principal, id uuid.UUID) (*db.Event, error) {
	if p.Kind != db.KindRegularUser {
		return nil, apperrors.Forbidden("Only regular users can sign up for events.")
	}

	var event *db.Event
	err := s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		event, err = tx.Events().LockByID(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrEventNotFound) {
				return apperrors.NotFound(resource)
			}
			return err
		}

		if !s.now().Before(event.EndsAt) {
			return apperrors.EventEnded()
		}

		if err := tx.Signups().Create(ctx, id, p.ID); err != nil {
			switch {
			case errors.Is(err, db.ErrAlreadySignedUp):
				return apperrors.AlreadySignedUp()
			case errors.Is(err, db.ErrAccountNotFound):
				return accountGone()
			}
			return err
		}

		// Counted after the insert so the row lock covers the check.
		count, err := tx.Signups().Count(ctx, id)
		if err != nil {
			return err
		}
		if event.Capacity > 0 && count > event.Capacity {
			return apperrors.EventFull()
		}
		event.SignupCount = count
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	if event.OrganizerID.Valid {
		s.notify(ctx, notify.Fanout(notify.KindSignupCreated, []uuid.UUID{event.OrganizerID.UUID}, event.ID, event.Title, p.ID))
	}
	return event, nil
}

func (s *Service) CancelSignUp(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	err := s.store.InTx(ctx, func(tx db.Store) error {
		if _, err := tx.Events().GetByID(ctx, id); err != nil {
			if errors.Is(err, db.ErrEventNotFound) {
				return apperrors.NotFound(resource)
			}
			return err
		}
		if err := tx.Signups().Delete(ctx, id, p.ID); err != nil {
			if errors.Is(err, db.ErrSignupNotFound) {
				return apperrors.NotFound("signup")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

// ListSignups returns the events the principal signed up for.
func (s *Service) ListSignups(ctx context.Context, p *auth.Principal) ([]db.Event, error) {
	return s.store.Signups().ListEventsForAccount(ctx, p.ID)
}

// SetCover stores an image and attaches it to an event the principal organizes.
func (s *Service) SetCover(ctx context.Context, p *auth.Principal, id uuid.UUID, image []byte) (*db.Event, error) {
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

	var event *db.Event
	err = s.store.InTx(ctx, func(tx db.Store) error {
		var err error
		event, err = gate(tx).Require(ctx, id, p.ID)
		if err != nil {
			return err
		}
		event.CoverKey = key
		event.UpdatedAt = s.now().UTC()
		return tx.Events().Update(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return event, nil
}

// OpenCover opens the event's cover image for streaming.
func (s *Service) OpenCover(ctx context.Context, id uuid.UUID) (*storage.Object, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.CoverKey == "" || s.images == nil {
		return nil, apperrors.NotFound("cover")
	}

	obj, err := s.images.Open(ctx, event.CoverKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, apperrors.NotFound("cover")
		}
		return nil, apperrors.StorageError("failed to open cover").WithCause(err)
	}
	return obj, nil
}
