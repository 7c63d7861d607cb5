package memdb

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/db"
)

type accounts struct{ s *Store }

func (r *accounts) Create(ctx context.Context, a *db.Account) error {
	return r.s.with(func(d *data) error {
		for _, existing := range d.accounts {
			if existing.Email == a.Email {
				return db.ErrEmailExists
			}
		}
		d.accounts[a.ID] = *a
		return nil
	})
}

func (r *accounts) GetByID(ctx context.Context, id uuid.UUID) (*db.Account, error) {
	var out *db.Account
	err := r.s.with(func(d *data) error {
		a, ok := d.accounts[id]
		if !ok {
			return db.ErrAccountNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *accounts) GetByEmail(ctx context.Context, email string) (*db.Account, error) {
	var out *db.Account
	err := r.s.with(func(d *data) error {
		for _, a := range d.accounts {
			if a.Email == email {
				out = &a
				return nil
			}
		}
		return db.ErrAccountNotFound
	})
	return out, err
}

func (r *accounts) Update(ctx context.Context, a *db.Account) error {
	return r.s.with(func(d *data) error {
		cur, ok := d.accounts[a.ID]
		if !ok {
			return db.ErrAccountNotFound
		}
		for id, existing := range d.accounts {
			if id != a.ID && existing.Email == a.Email {
				return db.ErrEmailExists
			}
		}
		a.Kind = cur.Kind
		a.CreatedAt = cur.CreatedAt
		d.accounts[a.ID] = *a
		return nil
	})
}

func (r *accounts) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.accounts[id]; !ok {
			return db.ErrAccountNotFound
		}
		delete(d.accounts, id)
		for hash, t := range d.tokens {
			if t.AccountID == id {
				delete(d.tokens, hash)
			}
		}
		for vid, v := range d.venues {
			if v.OwnerID == id {
				deleteVenue(d, vid)
			}
		}
		for eid, e := range d.events {
			if e.OrganizerID.Valid && e.OrganizerID.UUID == id {
				e.OrganizerID = uuid.NullUUID{}
				d.events[eid] = e
			}
		}
		for _, s := range d.signups {
			delete(s, id)
		}
		delete(d.accountHobbies, id)
		return nil
	})
}

type tokens struct{ s *Store }

func (r *tokens) Create(ctx context.Context, t *db.RefreshToken) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.accounts[t.AccountID]; !ok {
			return db.ErrAccountNotFound
		}
		if _, dup := d.tokens[t.TokenHash]; dup {
			return db.ErrTokenNotSaved
		}
		d.tokens[t.TokenHash] = *t
		return nil
	})
}

func (r *tokens) Consume(ctx context.Context, hash string, now time.Time) (*db.RefreshToken, error) {
	var out *db.RefreshToken
	err := r.s.with(func(d *data) error {
		t, ok := d.tokens[hash]
		if !ok || !t.ExpiresAt.After(now) {
			return db.ErrTokenNotFound
		}
		delete(d.tokens, hash)
		out = &t
		return nil
	})
	return out, err
}

func (r *tokens) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]db.RefreshToken, error) {
	var out []db.RefreshToken
	err := r.s.with(func(d *data) error {
		for _, t := range d.tokens {
			if t.AccountID == accountID {
				out = append(out, t)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b db.RefreshToken) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, err
}

func (r *tokens) DeleteForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(t db.RefreshToken) bool { return t.AccountID == accountID })
}

func (r *tokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(t db.RefreshToken) bool { return !t.ExpiresAt.After(now) })
}

func (r *tokens) deleteWhere(match func(db.RefreshToken) bool) (int64, error) {
	var n int64
	err := r.s.with(func(d *data) error {
		for hash, t := range d.tokens {
			if match(t) {
				delete(d.tokens, hash)
				n++
			}
		}
		return nil
	})
	return n, err
}

type events struct{ s *Store }

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func withCount(d *data, e db.Event) db.Event {
	e.SignupCount = len(d.signups[e.ID])
	return e
}

func (r *events) Create(ctx context.Context, e *db.Event) error {
	return r.s.with(func(d *data) error {
		if e.OrganizerID.Valid {
			if _, ok := d.accounts[e.OrganizerID.UUID]; !ok {
				return db.ErrAccountNotFound
			}
		}
		if e.VenueID.Valid {
			if _, ok := d.venues[e.VenueID.UUID]; !ok {
				return db.ErrVenueNotFound
			}
		}
		d.events[e.ID] = *e
		return nil
	})
}

func (r *events) GetByID(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	var out *db.Event
	err := r.s.with(func(d *data) error {
		e, ok := d.events[id]
		if !ok {
			return db.ErrEventNotFound
		}
		e = withCount(d, e)
		out = &e
		return nil
	})
	return out, err
}

// LockByID is GetByID: a transaction already holds the store lock.
func (r *events) LockByID(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	return r.GetByID(ctx, id)
}

func (r *events) List(ctx context.Context, f db.EventFilter) ([]db.Event, int, error) {
	var all []db.Event
	err := r.s.with(func(d *data) error {
		for _, e := range d.events {
			if f.OrganizerID.Valid && (!e.OrganizerID.Valid || e.OrganizerID.UUID != f.OrganizerID.UUID) {
				continue
			}
			if f.VenueID.Valid && (!e.VenueID.Valid || e.VenueID.UUID != f.VenueID.UUID) {
				continue
			}
			if !f.EndsAfter.IsZero() && !e.EndsAt.After(f.EndsAfter) {
				continue
			}
			if f.Text != "" && !containsFold(e.Title, f.Text) && !containsFold(e.Description, f.Text) {
				continue
			}
			all = append(all, withCount(d, e))
		}
		return nil
	})
	slices.SortFunc(all, func(a, b db.Event) int {
		if c := a.StartsAt.Compare(b.StartsAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return paginate(all, f.Limit, f.Offset), len(all), err
}

func (r *events) Update(ctx context.Context, e *db.Event) error {
	return r.s.with(func(d *data) error {
		cur, ok := d.events[e.ID]
		if !ok {
			return db.ErrEventNotFound
		}
		if e.VenueID.Valid {
			if _, ok := d.venues[e.VenueID.UUID]; !ok {
				return db.ErrVenueNotFound
			}
		}
		e.OrganizerID = cur.OrganizerID
		e.CreatedAt = cur.CreatedAt
		d.events[e.ID] = *e
		return nil
	})
}

func (r *events) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.events[id]; !ok {
			return db.ErrEventNotFound
		}
		delete(d.events, id)
		delete(d.signups, id)
		return nil
	})
}

func (r *events) DeleteByOrganizer(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.with(func(d *data) error {
		for id, e := range d.events {
			if e.OrganizerID.Valid && e.OrganizerID.UUID == organizerID {
				delete(d.events, id)
				delete(d.signups, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type venues struct{ s *Store }

func deleteVenue(d *data, id uuid.UUID) {
	delete(d.venues, id)
	for eid, e := range d.events {
		if e.VenueID.Valid && e.VenueID.UUID == id {
			e.VenueID = uuid.NullUUID{}
			d.events[eid] = e
		}
	}
}

func (r *venues) Create(ctx context.Context, v *db.Venue) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.accounts[v.OwnerID]; !ok {
			return db.ErrAccountNotFound
		}
		d.venues[v.ID] = *v
		return nil
	})
}

func (r *venues) GetByID(ctx context.Context, id uuid.UUID) (*db.Venue, error) {
	var out *db.Venue
	err := r.s.with(func(d *data) error {
		v, ok := d.venues[id]
		if !ok {
			return db.ErrVenueNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *venues) List(ctx context.Context, f db.VenueFilter) ([]db.Venue, int, error) {
	var all []db.Venue
	err := r.s.with(func(d *data) error {
		for _, v := range d.venues {
			if f.OwnerID.Valid && v.OwnerID != f.OwnerID.UUID {
				continue
			}
			if f.City != "" && !strings.EqualFold(v.City, f.City) {
				continue
			}
			if f.Text != "" && !containsFold(v.Name, f.Text) && !containsFold(v.Address, f.Text) {
				continue
			}
			all = append(all, v)
		}
		return nil
	})
	slices.SortFunc(all, func(a, b db.Venue) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return paginate(all, f.Limit, f.Offset), len(all), err
}

func (r *venues) Update(ctx context.Context, v *db.Venue) error {
	return r.s.with(func(d *data) error {
		cur, ok := d.venues[v.ID]
		if !ok {
			return db.ErrVenueNotFound
		}
		v.OwnerID = cur.OwnerID
		v.CreatedAt = cur.CreatedAt
		d.venues[v.ID] = *v
		return nil
	})
}

func (r *venues) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.venues[id]; !ok {
			return db.ErrVenueNotFound
		}
		deleteVenue(d, id)
		return nil
	})
}

type hobbies struct{ s *Store }

func (r *hobbies) Ensure(ctx context.Context, name string) (*db.Hobby, error) {
	var out *db.Hobby
	err := r.s.with(func(d *data) error {
		for _, h := range d.hobbies {
			if h.Name == name {
				out = &h
				return nil
			}
		}
		d.nextHobbyID++
		h := db.Hobby{ID: d.nextHobbyID, Name: name}
		d.hobbies[h.ID] = h
		out = &h
		return nil
	})
	return out, err
}

func sortHobbies(hs []db.Hobby) []db.Hobby {
	slices.SortFunc(hs, func(a, b db.Hobby) int { return strings.Compare(a.Name, b.Name) })
	return hs
}

func (r *hobbies) List(ctx context.Context) ([]db.Hobby, error) {
	var out []db.Hobby
	err := r.s.with(func(d *data) error {
		for _, h := range d.hobbies {
			out = append(out, h)
		}
		return nil
	})
	return sortHobbies(out), err
}

func (r *hobbies) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]db.Hobby, error) {
	var out []db.Hobby
	err := r.s.with(func(d *data) error {
		for id := range d.accountHobbies[accountID] {
			out = append(out, d.hobbies[id])
		}
		return nil
	})
	return sortHobbies(out), err
}

func (r *hobbies) SetForAccount(ctx context.Context, accountID uuid.UUID, ids []int64) error {
	return r.s.with(func(d *data) error {
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		d.accountHobbies[accountID] = set
		return nil
	})
}

type signups struct{ s *Store }

func (r *signups) Create(ctx context.Context, eventID, accountID uuid.UUID) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.events[eventID]; !ok {
			return db.ErrEventNotFound
		}
		if _, ok := d.accounts[accountID]; !ok {
			return db.ErrAccountNotFound
		}
		set := d.signups[eventID]
		if set == nil {
			set = make(map[uuid.UUID]time.Time)
			d.signups[eventID] = set
		}
		if _, dup := set[accountID]; dup {
			return db.ErrAlreadySignedUp
		}
		set[accountID] = time.Now()
		return nil
	})
}

func (r *signups) Delete(ctx context.Context, eventID, accountID uuid.UUID) error {
	return r.s.with(func(d *data) error {
		if _, ok := d.signups[eventID][accountID]; !ok {
			return db.ErrSignupNotFound
		}
		delete(d.signups[eventID], accountID)
		return nil
	})
}

func (r *signups) Count(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := r.s.with(func(d *data) error {
		n = len(d.signups[eventID])
		return nil
	})
	return n, err
}

func (r *signups) ListAccountIDs(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	type entry struct {
		id uuid.UUID
		at time.Time
	}
	var entries []entry
	err := r.s.with(func(d *data) error {
		for id, at := range d.signups[eventID] {
			entries = append(entries, entry{id, at})
		}
		return nil
	})
	slices.SortFunc(entries, func(a, b entry) int { return a.at.Compare(b.at) })
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids, err
}

func (r *signups) ListEventsForAccount(ctx context.Context, accountID uuid.UUID) ([]db.Event, error) {
	var out []db.Event
	err := r.s.with(func(d *data) error {
		for eventID, set := range d.signups {
			if _, ok := set[accountID]; ok {
				out = append(out, withCount(d, d.events[eventID]))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b db.Event) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, err
}
