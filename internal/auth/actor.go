// Package auth carries the already-resolved actor identity and permission level through the call context.
package auth

import (
	"context"
	"strings"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// PermissionLevel is 0 for the highest access and 10 for the lowest
type PermissionLevel int

const (
	LevelAdmin      PermissionLevel = 0
	LevelManager    PermissionLevel = 1
	LevelPharmacist PermissionLevel = 2
	LevelPrescriber PermissionLevel = 3
	LevelIntern     PermissionLevel = 4
	LevelTechnician PermissionLevel = 5
	LevelClerk      PermissionLevel = 7
	LevelReadOnly   PermissionLevel = 10
)

// Role is the staff role as issued by the session layer
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RolePharmacist Role = "pharmacist"
	RolePrescriber Role = "prescriber"
	RoleIntern     Role = "intern"
	RoleTechnician Role = "technician"
	RoleClerk      Role = "clerk"
	RoleViewer     Role = "viewer"
)

// RoleFlags are the per-profession attributes the session layer knows about
type RoleFlags struct {
	Role         Role
	Superuser    bool
	IsPharmacist bool
	IsPrescriber bool
	IsTechnician bool
}

// ResolveLevel collapses role flags into a single level; the most privileged flag wins
func ResolveLevel(flags RoleFlags) PermissionLevel {
	level := LevelReadOnly
	switch Role(strings.ToLower(string(flags.Role))) {
	case RoleAdmin:
		level = LevelAdmin
	case RoleManager:
		level = LevelManager
	case RolePharmacist:
		level = LevelPharmacist
	case RolePrescriber:
		level = LevelPrescriber
	case RoleIntern:
		level = LevelIntern
	case RoleTechnician:
		level = LevelTechnician
	case RoleClerk:
		level = LevelClerk
	}
	if flags.IsPharmacist && level > LevelPharmacist {
		level = LevelPharmacist
	}
	if flags.IsPrescriber && level > LevelPrescriber {
		level = LevelPrescriber
	}
	if flags.IsTechnician && level > LevelTechnician {
		level = LevelTechnician
	}
	return level
}

// Actor is the authenticated caller. It is immutable once resolved.
type Actor struct {
	StaffID   string
	Level     PermissionLevel
	Superuser bool
}

// NewActor resolves an actor from session role flags
func NewActor(staffID string, flags RoleFlags) Actor {
	return Actor{
		StaffID:   staffID,
		Level:     ResolveLevel(flags),
		Superuser: flags.Superuser,
	}
}

// Allows reports whether the actor meets the minimum level
func (a Actor) Allows(min PermissionLevel) bool {
	if a.Superuser {
		return true
	}
	return a.Level <= min
}

// Require returns Forbidden when the actor is below the minimum level
func (a Actor) Require(min PermissionLevel, procedure string) error {
	if a.StaffID == "" {
		return apperr.Forbidden("%s requires an authenticated actor", procedure)
	}
	if !a.Allows(min) {
		return apperr.Forbidden("%s requires permission level %d, actor %s has %d",
			procedure, min, a.StaffID, a.Level).
			WithDetail("required_level", int(min)).
			WithDetail("actor_level", int(a.Level))
	}
	return nil
}

type contextKey struct{}

// WithActor stores the actor in ctx
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// ActorFrom extracts the actor from ctx
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
