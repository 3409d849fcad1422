package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodbank-auth/internal/httpx"
)

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

func newTestMux(env *testEnv) *http.ServeMux {
	handler := NewHandler(env.service, env.responder, false)
	guard := NewGuard(env.service, env.responder)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", handler.Register)
	mux.HandleFunc("POST /login", handler.Login)
	mux.HandleFunc("POST /refresh-token", handler.RefreshToken)
	mux.Handle("POST /logout", guard.Authenticate(http.HandlerFunc(handler.Logout)))
	mux.Handle("GET /current-user", guard.Authenticate(http.HandlerFunc(handler.CurrentUser)))
	mux.Handle("POST /change-password", httpx.Chain(http.HandlerFunc(handler.ChangePassword), guard.Authenticate, guard.RequireActiveAccount))
	mux.Handle("GET /all", httpx.Chain(http.HandlerFunc(handler.ListUsers), guard.Authenticate, guard.RequireRole(RoleAdmin)))
	mux.Handle("PATCH /{userId}/toggle-status", httpx.Chain(http.HandlerFunc(handler.ToggleStatus), guard.Authenticate, guard.RequireRole(RoleAdmin)))
	mux.Handle("POST /api-keys", guard.Authenticate(http.HandlerFunc(handler.GenerateAPIKey)))
	mux.Handle("PATCH /api-keys/{keyId}/deactivate", guard.Authenticate(http.HandlerFunc(handler.DeactivateAPIKey)))
	return mux
}

func serve(mux http.Handler, method, target, body string, prepare ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, p := range prepare {
		p(req)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func cookieByName(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterAndLoginHandlers(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	rr := serve(mux, http.MethodPost, "/register", `{"fullName":"Alice","username":"alice","email":"alice@x.com","password":"secret1","role":"donor"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]any
	body := decodeEnvelope(t, rr, &created)
	assert.True(t, body.Success)
	assert.Equal(t, "User registered successfully", body.Message)
	assert.Equal(t, "alice", created["username"])
	assert.NotContains(t, created, "password")
	assert.NotContains(t, created, "passwordHash")
	assert.NotContains(t, rr.Body.String(), "$2a$")

	rr = serve(mux, http.MethodPost, "/register", `{"fullName":"Alice","username":"alice","email":"alice@x.com","password":"secret1","role":"donor"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(mux, http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login struct {
		User         map[string]any `json:"user"`
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
		Dashboard    string         `json:"dashboard"`
	}
	decodeEnvelope(t, rr, &login)
	assert.Equal(t, "/donor/dashboard", login.Dashboard)
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, "alice", login.User["username"])

	access := cookieByName(rr, accessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, login.AccessToken, access.Value)
	assert.True(t, access.HttpOnly)
	assert.False(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, 7*24*60*60, access.MaxAge)
	require.NotNil(t, cookieByName(rr, refreshTokenCookie))

	rr = serve(mux, http.MethodPost, "/login", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid credentials", errorMessage(t, rr))

	rr = serve(mux, http.MethodPost, "/login", `{"username":"alice","password":"secret1","otp":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshTokenHandler(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, donorInput("alice", "secret1"))
	pair := loginTokens(t, env, "alice")

	rr := serve(mux, http.MethodPost, "/refresh-token", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Unauthorized request", errorMessage(t, rr))

	rr = serve(mux, http.MethodPost, "/refresh-token", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshTokenCookie, Value: pair.RefreshToken})
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rotated TokenPair
	decodeEnvelope(t, rr, &rotated)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, rotated.RefreshToken, cookieByName(rr, refreshTokenCookie).Value)

	rr = serve(mux, http.MethodPost, "/refresh-token", `{"refreshToken":"`+pair.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Refresh token is expired or used", errorMessage(t, rr))

	rr = serve(mux, http.MethodPost, "/refresh-token", `{"refreshToken":"`+rotated.RefreshToken+`"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogoutClearsCookies(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, donorInput("alice", "secret1"))
	pair := loginTokens(t, env, "alice")

	rr := serve(mux, http.MethodPost, "/logout", "", bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code)
	cleared := cookieByName(rr, refreshTokenCookie)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	rr = serve(mux, http.MethodPost, "/refresh-token", `{"refreshToken":"`+pair.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCurrentUserAndChangePasswordHandlers(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, donorInput("alice", "secret1"))
	pair := loginTokens(t, env, "alice")

	rr := serve(mux, http.MethodGet, "/current-user", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(mux, http.MethodGet, "/current-user", "", bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code)
	var current Account
	decodeEnvelope(t, rr, &current)
	assert.Equal(t, "alice", current.Username)

	rr = serve(mux, http.MethodPost, "/change-password", `{"oldPassword":"bad","newPassword":"newsecret"}`, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid old password", errorMessage(t, rr))

	rr = serve(mux, http.MethodPost, "/change-password", `{"oldPassword":"secret1","newPassword":"newsecret"}`, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminHandlers(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, RegisterInput{FullName: "Root", Username: "root", Email: "root@x.com", Password: "secret1", Role: RoleAdmin})
	alice := env.register(t, donorInput("alice", "secret1"))
	env.register(t, donorInput("bob", "secret1"))
	adminPair := loginTokens(t, env, "root")
	alicePair := loginTokens(t, env, "alice")

	rr := serve(mux, http.MethodGet, "/all", "", bearer(alicePair.AccessToken))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(mux, http.MethodGet, "/all?role=donor&status=active&page=1&limit=1", "", bearer(adminPair.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page AccountPage
	decodeEnvelope(t, rr, &page)
	assert.Equal(t, Pagination{Page: 1, Limit: 1, Total: 2, Pages: 2}, page.Pagination)
	require.Len(t, page.Users, 1)

	rr = serve(mux, http.MethodPatch, "/"+alice.ID+"/toggle-status", "", bearer(adminPair.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code)
	var toggled map[string]bool
	body := decodeEnvelope(t, rr, &toggled)
	assert.False(t, toggled["isActive"])
	assert.Equal(t, "User deactivated successfully", body.Message)
}

func TestAPIKeyHandlers(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.register(t, donorInput("alice", "secret1"))
	pair := loginTokens(t, env, "alice")

	rr := serve(mux, http.MethodPost, "/api-keys", `{"name":"reports","permissions":["read","write"]}`, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var generated struct {
		APIKey APIKey `json:"apiKey"`
	}
	decodeEnvelope(t, rr, &generated)
	assert.Equal(t, "reports", generated.APIKey.Name)
	assert.Equal(t, []string{"read", "write"}, generated.APIKey.Permissions)

	rr = serve(mux, http.MethodPatch, "/api-keys/"+generated.APIKey.ID+"/deactivate", "", bearer(pair.AccessToken))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(mux, http.MethodPatch, "/api-keys/unknown/deactivate", "", bearer(pair.AccessToken))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "API key not found", errorMessage(t, rr))
}
