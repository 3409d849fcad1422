// Package httpx holds the JSON envelope, request decoding and the single
// error-to-status writer shared by every handler.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/observability"
)

const maxJSONBodyBytes = 16 << 10

type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Responder struct {
	logger     *observability.Logger
	production bool
	now        func() time.Time
}

func NewResponder(logger *observability.Logger, production bool) *Responder {
	return &Responder{logger: logger, production: production, now: time.Now}
}

func (rs *Responder) Success(w http.ResponseWriter, status int, data any, message string) {
	if data == nil {
		data = map[string]any{}
	}
	WriteJSON(w, status, envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// Error maps err to its status and message. Internal errors are logged and
// reported; their cause is only exposed outside production.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("Internal Server Error", err)
	}

	status := appErr.Kind.Status()
	body := errorBody{Success: false, Message: appErr.Message}

	if appErr.Kind == apperr.KindInternal {
		if body.Message == "" {
			body.Message = "Internal Server Error"
		}
		rs.logger.Error("request_failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		sentry.CaptureException(err)
		if !rs.production {
			body.Detail = err.Error()
		}
	}

	if !appErr.Until.IsZero() {
		retryAfter := int(appErr.Until.Sub(rs.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	WriteJSON(w, status, body)
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads a size-limited JSON body into dst, rejecting unknown
// fields and trailing data.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return apperr.Validation("request body is too large")
		}
		return apperr.Validation("invalid json body")
	}
	if decoder.More() {
		return apperr.Validation("invalid json body")
	}

	return nil
}

// Chain applies middlewares so the first one listed runs first.
func Chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
