// Package ownership decides whether a principal may mutate a resource.
package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/gatherly/backend/internal/errors"
)

type Decision int

const (
	Allowed Decision = iota
	Forbidden
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Err maps the decision to the error the HTTP layer renders (404 / 403), or nil.
func (d Decision) Err(resource string) error {
	switch d {
	case Allowed:
		return nil
	case NotFound:
		return apperrors.NotFound(resource)
	default:
		return apperrors.Forbidden(fmt.Sprintf("you do not own this %s", resource))
	}
}

// Decide compares an already resolved owner with the principal. A resource
// without an owner can be mutated by nobody.
func Decide(owner uuid.UUID, hasOwner bool, principal uuid.UUID) Decision {
	if !hasOwner || owner != principal {
		return Forbidden
	}
	return Allowed
}

// Gate resolves a resource by id and checks its owner.
type Gate[T any] struct {
	// Resource names the resource in error messages.
	Resource string
	Lookup   func(ctx context.Context, id uuid.UUID) (T, error)
	OwnerOf  func(T) (uuid.UUID, bool)
	// IsNotFound reports whether a Lookup error means the resource does not exist.
	IsNotFound func(error) bool
}

// Authorize resolves the resource first; the owner is never compared for a
// missing resource. Lookup failures other than not-found are returned as errors.
func (g Gate[T]) Authorize(ctx context.Context, id uuid.UUID, principal uuid.UUID) (T, Decision, error) {
	var zero T
	res, err := g.Lookup(ctx, id)
	if err != nil {
		if g.IsNotFound(err) {
			return zero, NotFound, nil
		}
		return zero, NotFound, fmt.Errorf("resolve %s: %w", g.Resource, err)
	}

	owner, ok := g.OwnerOf(res)
	return res, Decide(owner, ok, principal), nil
}

// Require is Authorize folded into a single error for handlers.
func (g Gate[T]) Require(ctx context.Context, id uuid.UUID, principal uuid.UUID) (T, error) {
	res, decision, err := g.Authorize(ctx, id, principal)
	if err != nil {
		return res, err
	}
	if err := decision.Err(g.Resource); err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

// NotFoundIs builds an IsNotFound func matching a sentinel.
func NotFoundIs(sentinel error) func(error) bool {
	return func(err error) bool { return errors.Is(err, sentinel) }
}
