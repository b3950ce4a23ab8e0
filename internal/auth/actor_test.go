package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		name  string
		flags RoleFlags
		want  PermissionLevel
	}{
		{"admin", RoleFlags{Role: RoleAdmin}, LevelAdmin},
		{"technician", RoleFlags{Role: RoleTechnician}, LevelTechnician},
		{"tech flagged pharmacist", RoleFlags{Role: RoleTechnician, IsPharmacist: true}, LevelPharmacist},
		{"unknown role", RoleFlags{Role: "janitor"}, LevelReadOnly},
		{"case insensitive", RoleFlags{Role: "Pharmacist"}, LevelPharmacist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveLevel(tt.flags); got != tt.want {
				t.Errorf("ResolveLevel() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActorRequire(t *testing.T) {
	tech := NewActor("tech-1", RoleFlags{Role: RoleTechnician})
	if err := tech.Require(LevelTechnician, "fill"); err != nil {
		t.Errorf("technician should be allowed: %v", err)
	}
	err := tech.Require(LevelPharmacist, "verify")
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected Forbidden, got %v", err)
	}

	root := NewActor("root", RoleFlags{Role: RoleViewer, Superuser: true})
	if err := root.Require(LevelAdmin, "anything"); err != nil {
		t.Errorf("superuser bypass failed: %v", err)
	}

	if err := (Actor{}).Require(LevelReadOnly, "read"); err == nil {
		t.Error("anonymous actor must be refused")
	}
}

func TestActorContext(t *testing.T) {
	a := NewActor("rph-1", RoleFlags{Role: RolePharmacist})
	got, ok := ActorFrom(WithActor(context.Background(), a))
	if !ok || got != a {
		t.Errorf("actor not round-tripped: %+v", got)
	}
	if _, ok := ActorFrom(context.Background()); ok {
		t.Error("expected no actor")
	}
}
