package app

import (
	"net/http"

	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/emergency"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/maintenance"
	"bloodbank-auth/internal/observability"
	"bloodbank-auth/internal/organization"
	"bloodbank-auth/internal/otp"
)

type routes struct {
	guard         *auth.Guard
	users         *auth.Handler
	loginLimiter  *auth.LoginRateLimiter
	otp           *otp.Handler
	otpLimiter    *otp.RequestLimiter
	emergency     *emergency.Handler
	organizations *organization.Handler
	cleanup       *maintenance.CleanupHandler
	health        http.HandlerFunc
}

// mux registers the HTTP surface. Every authenticated route except logout
// re-checks that the account is still active and unlocked.
func (rt routes) mux() *http.ServeMux {
	guard := rt.guard
	authed := func(h http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
		return httpx.Chain(h, append([]func(http.Handler) http.Handler{guard.Authenticate}, mws...)...)
	}
	active := guard.RequireActiveAccount
	adminOnly := guard.RequireRole(auth.RoleAdmin)
	orgAdmin := guard.RequireRole(auth.RoleHospitalAdmin, auth.RoleBloodBankAdmin)
	keyHolders := guard.RequireRole(auth.RoleAdmin, auth.RoleHospitalAdmin, auth.RoleBloodBankAdmin)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/users/register", rt.users.Register)
	mux.Handle("POST /api/v1/users/login", rt.loginLimiter.Middleware(http.HandlerFunc(rt.users.Login)))
	mux.Handle("POST /api/v1/users/logout", authed(rt.users.Logout))
	mux.HandleFunc("POST /api/v1/users/refresh-token", rt.users.RefreshToken)
	mux.Handle("POST /api/v1/users/change-password", authed(rt.users.ChangePassword, active))
	mux.Handle("GET /api/v1/users/current-user", authed(rt.users.CurrentUser, active))
	mux.Handle("PATCH /api/v1/users/update-account", authed(rt.users.UpdateAccount, active))
	mux.Handle("PATCH /api/v1/users/preferences", authed(rt.users.UpdatePreferences, active))
	mux.Handle("PATCH /api/v1/users/organization-info", authed(rt.users.UpdateOrganizationInfo, active, orgAdmin))
	mux.Handle("POST /api/v1/users/api-keys", authed(rt.users.GenerateAPIKey, active, keyHolders))
	mux.Handle("GET /api/v1/users/api-keys", authed(rt.users.ListAPIKeys, active, keyHolders))
	mux.Handle("PATCH /api/v1/users/api-keys/{keyId}/deactivate", authed(rt.users.DeactivateAPIKey, active, keyHolders))
	mux.Handle("GET /api/v1/users/all", authed(rt.users.ListUsers, active, adminOnly))
	mux.Handle("PATCH /api/v1/users/{userId}/toggle-status", authed(rt.users.ToggleStatus, active, adminOnly))
	mux.Handle("GET /api/v1/users/dashboard-stats", authed(rt.users.DashboardStats, active))

	mux.Handle("POST /api/donor/login/request-otp", rt.otpLimiter.Middleware(http.HandlerFunc(rt.otp.RequestOTP)))
	mux.HandleFunc("POST /api/donor/login/verify-otp", rt.otp.VerifyOTP)

	mux.Handle("POST /api/emergency/send-emergency", authed(rt.emergency.SendEmergency, active))

	mux.Handle("POST /api/v1/organizations", authed(rt.organizations.CreateOrganization, active, adminOnly))
	mux.Handle("GET /api/v1/organizations", authed(rt.organizations.ListOrganizations, active))
	mux.Handle("GET /api/v1/organizations/{id}", authed(rt.organizations.GetOrganization, active))
	mux.Handle("GET /api/v1/organizations/{id}/staff", authed(rt.organizations.ListStaff, active, guard.RequirePermission("staff", "read")))

	mux.HandleFunc("GET /api/v1/health", rt.health)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /internal/maintenance/cleanup", rt.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", rt.cleanup.Handle)

	return mux
}
