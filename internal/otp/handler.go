package otp

import (
	"bytes"
	"encoding/json"
	"net/http"

	"bloodbank-auth/internal/httpx"
)

type Handler struct {
	service   *Service
	responder *httpx.Responder
}

func NewHandler(service *Service, responder *httpx.Responder) *Handler {
	return &Handler{service: service, responder: responder}
}

type requestOTPRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	DonorID string    `json:"donorId"`
	OTP     codeInput `json:"otp"`
}

// codeInput accepts the code as a JSON string or number.
type codeInput string

func (c *codeInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = codeInput(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = codeInput(n.String())
	return nil
}

func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var body requestOTPRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	donorID, err := h.service.Request(r.Context(), body.Email)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, map[string]string{"donorId": donorID}, "OTP sent successfully")
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	token, err := h.service.Verify(r.Context(), body.DonorID, string(body.OTP))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, map[string]string{"token": token}, "Login successful")
}
