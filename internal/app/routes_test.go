package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/emergency"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/maintenance"
	"bloodbank-auth/internal/observability"
	"bloodbank-auth/internal/organization"
	"bloodbank-auth/internal/otp"
)

// routeStore serves the account lookups the guards make. Any other store
// call panics through the nil embedded interface.
type routeStore struct {
	auth.Store
	accounts map[string]auth.Account
}

func (s routeStore) FindByID(_ context.Context, id string) (auth.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrAccountNotFound
	}
	return account, nil
}

func (s routeStore) ListAPIKeys(context.Context, string) ([]auth.APIKey, error) {
	return []auth.APIKey{}, nil
}

func (s routeStore) ClearSession(context.Context, string) error {
	return nil
}

type routeEnv struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
}

func newRouteEnv(t *testing.T, accounts ...auth.Account) *routeEnv {
	t.Helper()

	logger := observability.NewLoggerTo(io.Discard)
	responder := httpx.NewResponder(logger, true)
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  "access",
		RefreshSecret: "refresh",
		APIKeySecret:  "api-key",
		DonorSecret:   "donor",
	})
	require.NoError(t, err)

	store := routeStore{accounts: make(map[string]auth.Account)}
	for _, account := range accounts {
		store.accounts[account.ID] = account
	}
	service := auth.NewService(store, tokens, auth.NewPasswordHasher(10), auth.WithLogger(logger))

	mux := routes{
		guard:         auth.NewGuard(service, responder),
		users:         auth.NewHandler(service, responder, false),
		loginLimiter:  auth.NewLoginRateLimiter(nil, 10, time.Minute, logger, responder),
		otp:           otp.NewHandler(nil, responder),
		otpLimiter:    otp.NewRequestLimiter(20*time.Second, 3, responder),
		emergency:     emergency.NewHandler(nil, responder),
		organizations: organization.NewHandler(nil, nil, responder),
		cleanup:       maintenance.NewCleanupHandler(nil, logger, responder, maintenance.CleanupConfig{}),
		health:        func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	}.mux()

	return &routeEnv{handler: mux, tokens: tokens}
}

func (e *routeEnv) call(t *testing.T, account auth.Account, method, target string) (int, string) {
	t.Helper()

	token, err := e.tokens.IssueAccessToken(account)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	return rr.Code, body.Message
}

func routeAccount(id string, role auth.Role, active bool) auth.Account {
	return auth.Account{
		ID:            id,
		Username:      id,
		Email:         id + "@x.com",
		FullName:      "Test " + id,
		Role:          role,
		AccountStatus: auth.AccountStatus{IsActive: active},
	}
}

var sessionRoutes = []struct {
	method string
	target string
}{
	{http.MethodPost, "/api/v1/users/change-password"},
	{http.MethodGet, "/api/v1/users/current-user"},
	{http.MethodPatch, "/api/v1/users/update-account"},
	{http.MethodPatch, "/api/v1/users/preferences"},
	{http.MethodPatch, "/api/v1/users/organization-info"},
	{http.MethodPost, "/api/v1/users/api-keys"},
	{http.MethodGet, "/api/v1/users/api-keys"},
	{http.MethodPatch, "/api/v1/users/api-keys/0190c2a4-0000-7000-8000-000000000001/deactivate"},
	{http.MethodGet, "/api/v1/users/dashboard-stats"},
	{http.MethodPost, "/api/emergency/send-emergency"},
	{http.MethodGet, "/api/v1/organizations"},
	{http.MethodGet, "/api/v1/organizations/0190c2a4-0000-7000-8000-0000000000b1"},
}

func TestRoutesRejectDeactivatedAccounts(t *testing.T) {
	admin := routeAccount("hospital-admin", auth.RoleHospitalAdmin, false)
	env := newRouteEnv(t, admin)

	for _, route := range sessionRoutes {
		t.Run(route.method+" "+route.target, func(t *testing.T) {
			status, message := env.call(t, admin, route.method, route.target)
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "Account is deactivated. Please contact support.", message)
		})
	}
}

func TestRoutesRejectLockedAccounts(t *testing.T) {
	lockUntil := time.Now().Add(time.Hour)
	admin := routeAccount("hospital-admin", auth.RoleHospitalAdmin, true)
	admin.AccountStatus.LoginAttempts = 5
	admin.AccountStatus.LockUntil = &lockUntil
	env := newRouteEnv(t, admin)

	for _, route := range sessionRoutes {
		t.Run(route.method+" "+route.target, func(t *testing.T) {
			status, _ := env.call(t, admin, route.method, route.target)
			assert.Equal(t, http.StatusLocked, status)
		})
	}
}

func TestLogoutAllowedForDeactivatedAccount(t *testing.T) {
	donor := routeAccount("donor", auth.RoleDonor, false)
	env := newRouteEnv(t, donor)

	status, _ := env.call(t, donor, http.MethodPost, "/api/v1/users/logout")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPIKeyRoutesRequireAdminRoles(t *testing.T) {
	donor := routeAccount("donor", auth.RoleDonor, true)
	hospitalAdmin := routeAccount("hospital-admin", auth.RoleHospitalAdmin, true)
	env := newRouteEnv(t, donor, hospitalAdmin)

	for _, route := range sessionRoutes[5:8] {
		t.Run(route.method+" "+route.target, func(t *testing.T) {
			status, message := env.call(t, donor, route.method, route.target)
			assert.Equal(t, http.StatusForbidden, status)
			assert.Equal(t, "You do not have permission to perform this action", message)
		})
	}

	status, _ := env.call(t, hospitalAdmin, http.MethodGet, "/api/v1/users/api-keys")
	assert.Equal(t, http.StatusOK, status)
}

func TestActiveAccountReachesHandler(t *testing.T) {
	donor := routeAccount("donor", auth.RoleDonor, true)
	env := newRouteEnv(t, donor)

	status, message := env.call(t, donor, http.MethodGet, "/api/v1/users/current-user")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Current user fetched successfully", message)
}
