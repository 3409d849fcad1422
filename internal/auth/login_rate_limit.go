package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/observability"
)

// LoginIPStore counts login requests per client IP in a fixed window shared
// by every instance.
type LoginIPStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	store     LoginIPStore
	maxHits   int
	window    time.Duration
	logger    *observability.Logger
	responder *httpx.Responder
	now       func() time.Time
}

func NewLoginRateLimiter(store LoginIPStore, maxHits int, window time.Duration, logger *observability.Logger, responder *httpx.Responder) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		store:     store,
		maxHits:   maxHits,
		window:    window,
		logger:    logger,
		responder: responder,
		now:       time.Now,
	}
}

// Middleware rejects a client that exceeded the window. A store failure lets
// the request through.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)
		now := l.now().UTC()

		allowed, retryAfter, err := l.store.AllowLoginIP(r.Context(), ip, l.maxHits, l.window, now)
		if err != nil {
			l.logger.Warn("login_rate_limit_unavailable", map[string]any{"ip": ip, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			l.responder.Error(w, r, apperr.TooManyRequests("Too many login attempts. Try again later.", now.Add(retryAfter)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (ip) DO UPDATE
		SET
			hits = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
				ELSE auth_login_ip_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
				ELSE auth_login_ip_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
