package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/auth"
)

func TestAPIKeyAuthResolvesActor(t *testing.T) {
	keys := map[string]Credential{
		"tech-key": {StaffID: "tech-1", Flags: auth.RoleFlags{Role: auth.RoleTechnician}},
		"rph-key":  {StaffID: "rph-1", Flags: auth.RoleFlags{Role: auth.RoleClerk, IsPharmacist: true}},
	}

	var got auth.Actor
	h := APIKeyAuth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := auth.ActorFrom(r.Context())
		require.True(t, ok)
		got = a
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer rph-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rph-1", got.StaffID)
	assert.Equal(t, auth.LevelPharmacist, got.Level)
}

func TestAPIKeyAuthRejectsUnknownKey(t *testing.T) {
	h := APIKeyAuth(map[string]Credential{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, key := range []string{"", "nope"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
