// Package memdb is an in-memory db.Store. Transactions serialize on a single
// lock and roll back by restoring a snapshot.
package memdb

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/db"
)

type data struct {
	accounts       map[uuid.UUID]db.Account
	tokens         map[string]db.RefreshToken
	events         map[uuid.UUID]db.Event
	venues         map[uuid.UUID]db.Venue
	hobbies        map[int64]db.Hobby
	nextHobbyID    int64
	accountHobbies map[uuid.UUID]map[int64]struct{}
	signups        map[uuid.UUID]map[uuid.UUID]time.Time
}

func newData() *data {
	return &data{
		accounts:       make(map[uuid.UUID]db.Account),
		tokens:         make(map[string]db.RefreshToken),
		events:         make(map[uuid.UUID]db.Event),
		venues:         make(map[uuid.UUID]db.Venue),
		hobbies:        make(map[int64]db.Hobby),
		accountHobbies: make(map[uuid.UUID]map[int64]struct{}),
		signups:        make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (d *data) clone() *data {
	c := &data{
		accounts:       maps.Clone(d.accounts),
		tokens:         maps.Clone(d.tokens),
		events:         maps.Clone(d.events),
		venues:         maps.Clone(d.venues),
		hobbies:        maps.Clone(d.hobbies),
		nextHobbyID:    d.nextHobbyID,
		accountHobbies: make(map[uuid.UUID]map[int64]struct{}, len(d.accountHobbies)),
		signups:        make(map[uuid.UUID]map[uuid.UUID]time.Time, len(d.signups)),
	}
	for k, v := range d.accountHobbies {
		c.accountHobbies[k] = maps.Clone(v)
	}
	for k, v := range d.signups {
		c.signups[k] = maps.Clone(v)
	}
	return c
}

// Store implements db.Store in memory.
type Store struct {
	mu     *sync.Mutex
	d      *data
	locked bool
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, d: newData()}
}

func (s *Store) with(fn func(d *data) error) error {
	if !s.locked {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.d)
}

func (s *Store) Accounts() db.AccountStore           { return &accounts{s} }
func (s *Store) RefreshTokens() db.RefreshTokenStore { return &tokens{s} }
func (s *Store) Events() db.EventStore               { return &events{s} }
func (s *Store) Venues() db.VenueStore               { return &venues{s} }
func (s *Store) Hobbies() db.HobbyStore              { return &hobbies{s} }
func (s *Store) Signups() db.SignupStore             { return &signups{s} }

func (s *Store) InTx(ctx context.Context, fn func(db.Store) error) error {
	if s.locked {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, locked: true}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
