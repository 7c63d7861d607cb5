package auth

import (
	"errors"
	"fmt"

	"github.com/gatherly/backend/internal/config"
	"github.com/gatherly/backend/internal/db"
)

// ErrUnmappedKind means an account kind has no role name configured.
var ErrUnmappedKind = errors.New("account kind has no role mapping")

// RoleNames holds the role claim value for each account kind.
type RoleNames struct {
	User           string
	BusinessClient string
}

func RoleNamesFrom(cfg config.JWTConfig) RoleNames {
	return RoleNames{User: cfg.RoleUser, BusinessClient: cfg.RoleBusinessClient}
}

// RoleFor maps an account kind to its role name. Every kind must have a case here.
func (r RoleNames) RoleFor(kind db.AccountKind) (string, error) {
	var role string
	switch kind {
	case db.KindRegularUser:
		role = r.User
	case db.KindBusinessClient:
		role = r.BusinessClient
	default:
		return "", fmt.Errorf("%w: %q", ErrUnmappedKind, kind)
	}
	if role == "" {
		return "", fmt.Errorf("%w: %q has an empty role name", ErrUnmappedKind, kind)
	}
	return role, nil
}

// KindFor is the inverse of RoleFor.
func (r RoleNames) KindFor(role string) (db.AccountKind, bool) {
	for _, kind := range db.AccountKinds {
		if mapped, err := r.RoleFor(kind); err == nil && mapped == role {
			return kind, true
		}
	}
	return "", false
}

// Validate checks that every known kind maps to a distinct role.
func (r RoleNames) Validate() error {
	seen := make(map[string]db.AccountKind, len(db.AccountKinds))
	for _, kind := range db.AccountKinds {
		role, err := r.RoleFor(kind)
		if err != nil {
			return err
		}
		if other, dup := seen[role]; dup {
			return fmt.Errorf("role %q is mapped to both %q and %q", role, other, kind)
		}
		seen[role] = kind
	}
	return nil
}
