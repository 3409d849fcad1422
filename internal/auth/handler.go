package auth

import (
	"net/http"
	"strconv"
	"strings"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/httpx"
)

type Handler struct {
	service   *Service
	responder *httpx.Responder
	cookies   cookieSettings
}

// NewHandler builds the account endpoints. secureCookies marks session
// cookies Secure and should be set in production.
func NewHandler(service *Service, responder *httpx.Responder, secureCookies bool) *Handler {
	return &Handler{
		service:   service,
		responder: responder,
		cookies:   cookieSettings{secure: secureCookies},
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	account, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusCreated, account, "User registered successfully")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.cookies.set(w, result.TokenPair)
	h.responder.Success(w, http.StatusOK, result, "User logged in successfully")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), account.ID); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.cookies.clear(w)
	h.responder.Success(w, http.StatusOK, nil, "User logged out successfully")
}

// RefreshToken accepts the refresh token from its cookie or from the body.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		token = strings.TrimSpace(cookie.Value)
	}
	if token == "" && r.ContentLength != 0 {
		var body refreshRequest
		if err := httpx.DecodeJSON(w, r, &body); err != nil {
			h.responder.Error(w, r, err)
			return
		}
		token = body.RefreshToken
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.cookies.set(w, pair)
	h.responder.Success(w, http.StatusOK, pair, "Access token refreshed")
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	var body changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), account.ID, body.OldPassword, body.NewPassword); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, nil, "Password changed successfully")
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}
	h.responder.Success(w, http.StatusOK, account, "Current user fetched successfully")
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	var body ProfileUpdate
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	updated, err := h.service.UpdatePersonalInfo(r.Context(), account.ID, body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, updated, "Personal information updated successfully")
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	var body PreferencesUpdate
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	updated, err := h.service.UpdatePreferences(r.Context(), account.ID, body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, updated, "Preferences updated successfully")
}

func (h *Handler) UpdateOrganizationInfo(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	var body OrganizationUpdate
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	updated, err := h.service.UpdateOrganizationInfo(r.Context(), account.ID, body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, updated, "Organization information updated successfully")
}

func (h *Handler) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	var body APIKeyInput
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	key, err := h.service.GenerateAPIKey(r.Context(), account.ID, body)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, map[string]any{"apiKey": key}, "API key generated successfully")
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	keys, err := h.service.ListAPIKeys(r.Context(), account.ID)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, keys, "API keys fetched successfully")
}

func (h *Handler) DeactivateAPIKey(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	if err := h.service.DeactivateAPIKey(r.Context(), account.ID, r.PathValue("keyId")); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, nil, "API key deactivated successfully")
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{
		Role:  Role(query.Get("role")),
		Page:  queryInt(query.Get("page"), 1),
		Limit: queryInt(query.Get("limit"), defaultPageLimit),
	}
	switch query.Get("status") {
	case "":
	case "active":
		active := true
		filter.Active = &active
	default:
		active := false
		filter.Active = &active
	}

	page, err := h.service.ListAccounts(r.Context(), filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, page, "Users fetched successfully")
}

func (h *Handler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := h.service.ToggleStatus(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	message := "User deactivated successfully"
	if active {
		message = "User activated successfully"
	}
	h.responder.Success(w, http.StatusOK, map[string]bool{"isActive": active}, message)
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	stats, err := h.service.DashboardStats(r.Context(), account)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, stats, "Dashboard stats fetched successfully")
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) (Account, bool) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		h.responder.Error(w, r, apperr.Unauthorized("Access token is required"))
	}
	return account, ok
}

func queryInt(raw string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
