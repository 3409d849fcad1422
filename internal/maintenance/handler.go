// Package maintenance exposes the scheduled cleanup of stale auth data.
package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/observability"
)

type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, ipRetention, keyRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type CleanupConfig struct {
	CronSecret       string
	IPLimitRetention time.Duration
	APIKeyRetention  time.Duration
	BatchSize        int
}

type CleanupHandler struct {
	cleaner   Cleaner
	logger    *observability.Logger
	responder *httpx.Responder
	cfg       CleanupConfig
}

func NewCleanupHandler(cleaner Cleaner, logger *observability.Logger, responder *httpx.Responder, cfg CleanupConfig) *CleanupHandler {
	cfg.CronSecret = strings.TrimSpace(cfg.CronSecret)
	return &CleanupHandler{
		cleaner:   cleaner,
		logger:    logger,
		responder: responder,
		cfg:       cfg,
	}
}

// Handle runs one cleanup pass. The route is hidden unless CRON_SECRET is
// configured, and callers must present it as a bearer token.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cfg.CronSecret == "" {
		h.responder.Error(w, r, apperr.NotFound("Not found"))
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cfg.CronSecret)) != 1 {
		h.responder.Error(w, r, apperr.Unauthorized("Unauthorized request"))
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.cfg.IPLimitRetention, h.cfg.APIKeyRetention, h.cfg.BatchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		h.responder.Error(w, r, apperr.Internal("Cleanup failed", err))
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_ip_limits": result.DeletedIPLimits,
		"deleted_api_keys":  result.DeletedAPIKeys,
	})

	h.responder.Success(w, http.StatusOK, result, "Cleanup completed")
}
