package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akmatori/alertflow/internal/api"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/middleware"
	"github.com/akmatori/alertflow/internal/testhelpers"
)

func newAuthServer(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t, true)
	hash, err := middleware.HashPassword("hunter22")
	require.NoError(t, err)
	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret-with-enough-entropy",
		JWTExpiryHours:    1,
		SkipPaths:         []string{"/health", "/metrics", "/auth/login", "/webhook/*"},
	})
	NewAuthHandler(jwtAuth).SetupRoutes(f.mux)
	return f, jwtAuth.Wrap(f.mux)
}

func login(t *testing.T, handler http.Handler, password string) *testhelpers.HTTPTestContext {
	t.Helper()
	return testhelpers.NewHTTPTestContext(t, http.MethodPost, "/auth/login", nil).
		WithJSONBody(map[string]string{"username": "admin", "password": password}).
		Execute(handler)
}

func TestAuth_LoginAndVerify(t *testing.T) {
	_, handler := newAuthServer(t)

	login(t, handler, "wrong").AssertStatus(http.StatusUnauthorized)

	var resp api.LoginResponse
	login(t, handler, "hunter22").AssertStatus(http.StatusOK).DecodeJSON(&resp)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin", resp.Username)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/auth/verify", nil).
		WithBearerToken(resp.Token).
		Execute(handler).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"username":"admin"`)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/api/alerts", nil).
		Execute(handler).
		AssertStatus(http.StatusUnauthorized)
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		Execute(handler).
		AssertStatus(http.StatusOK)
}

func TestAuth_ActorComesFromToken(t *testing.T) {
	f, handler := newAuthServer(t)
	var resp api.LoginResponse
	login(t, handler, "hunter22").DecodeJSON(&resp)

	alert := submit(t, f, "router-1").Alert
	testhelpers.NewHTTPTestContext(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/transitions", alert.ID), nil).
		WithBearerToken(resp.Token).
		WithJSONBody(map[string]string{"state": "acknowledged", "actor": "mallory"}).
		Execute(handler).
		AssertStatus(http.StatusCreated)

	history, err := f.svc.Lifecycle.History(f.ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[1].Actor)
	assert.Equal(t, "admin", *history[1].Actor)
	assert.Equal(t, database.AlertStateAcknowledged, history[1].State)
}
