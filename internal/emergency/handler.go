package emergency

import (
	"net/http"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/httpx"
)

type Handler struct {
	service   *Service
	responder *httpx.Responder
}

func NewHandler(service *Service, responder *httpx.Responder) *Handler {
	return &Handler{service: service, responder: responder}
}

type sendRequest struct {
	EmergencyData Alert `json:"emergencyData"`
}

func (h *Handler) SendEmergency(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		h.responder.Error(w, r, apperr.Unauthorized("Access token is required"))
		return
	}

	var body sendRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	results, err := h.service.Send(r.Context(), account, body.EmergencyData)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, map[string]any{"contacts": results}, "WhatsApp alerts sent to emergency contacts")
}
