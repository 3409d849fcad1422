package auth

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/httpx"
)

const apiKeyHeader = "X-API-Key"

// Guard holds the request middlewares that authenticate and authorize
// callers. All of them except Authenticate expect an account in the context.
type Guard struct {
	service   *Service
	responder *httpx.Responder
}

func NewGuard(service *Service, responder *httpx.Responder) *Guard {
	return &Guard{service: service, responder: responder}
}

// Authenticate reads the access token from the accessToken cookie, falling
// back to a Bearer Authorization header and then an X-API-Key header, and
// attaches the account.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			account Account
			err     error
		)
		if token := accessTokenFrom(r); token != "" {
			account, err = g.service.Authenticate(r.Context(), token)
		} else if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
			account, err = g.service.AuthenticateAPIKey(r.Context(), key)
		} else {
			err = apperr.Unauthorized("Access token is required")
		}
		if err != nil {
			g.responder.Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
	})
}

func (g *Guard) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return g.require(func(account Account) error {
		if !slices.Contains(roles, account.Role) {
			return apperr.Forbidden("You do not have permission to perform this action")
		}
		return nil
	})
}

// RequireActiveAccount rejects deactivated and locked accounts even when
// their token is still valid.
func (g *Guard) RequireActiveAccount(next http.Handler) http.Handler {
	return g.require(func(account Account) error {
		if !account.AccountStatus.IsActive {
			return apperr.Forbidden("Account is deactivated. Please contact support.")
		}
		if account.IsLocked(g.service.Now()) {
			return apperr.Locked("Account is locked due to multiple failed login attempts", *account.AccountStatus.LockUntil)
		}
		return nil
	})(next)
}

func (g *Guard) RequireOrganizationType(t OrganizationType) func(http.Handler) http.Handler {
	return g.require(func(account Account) error {
		if !HasOrganizationType(account, t) {
			return apperr.Forbidden(fmt.Sprintf("Access denied. %s access required.", t))
		}
		return nil
	})
}

func (g *Guard) RequirePermission(module, action string) func(http.Handler) http.Handler {
	return g.require(func(account Account) error {
		if !HasPermission(account, module, action) {
			return apperr.Forbidden(fmt.Sprintf("You do not have permission to %s %s", action, module))
		}
		return nil
	})
}

func (g *Guard) require(check func(Account) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := AccountFromContext(r.Context())
			if !ok {
				g.responder.Error(w, r, apperr.Unauthorized("Access token is required"))
				return
			}
			if err := check(account); err != nil {
				g.responder.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
