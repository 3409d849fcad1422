package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/observability"
)

func newTestResponder(production bool) *Responder {
	return NewResponder(observability.NewLoggerTo(io.Discard), production)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestResponderSuccessEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestResponder(false).Success(rr, http.StatusCreated, map[string]string{"id": "42"}, "created")

	assert.Equal(t, http.StatusCreated, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, http.StatusCreated, body["statusCode"])
	assert.Equal(t, "created", body["message"])
	assert.Equal(t, map[string]any{"id": "42"}, body["data"])
}

func TestResponderErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", apperr.Validation("Invalid email format"), http.StatusBadRequest, "Invalid email format"},
		{"conflict", apperr.Conflict("User with email or username already exists"), http.StatusConflict, "User with email or username already exists"},
		{"unauthorized", apperr.Unauthorized("Access token is required"), http.StatusUnauthorized, "Access token is required"},
		{"forbidden", apperr.Forbidden("nope"), http.StatusForbidden, "nope"},
		{"not found", apperr.NotFound("User does not exist"), http.StatusNotFound, "User does not exist"},
		{"plain error", errors.New("db down"), http.StatusInternalServerError, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestResponder(true).Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rr.Code)
			body := decodeBody(t, rr)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["message"])
			assert.NotContains(t, body, "detail")
		})
	}
}

func TestResponderInternalDetailOutsideProduction(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestResponder(false).Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), apperr.Internal("failed to issue tokens", errors.New("sign jwt: bad key")))

	body := decodeBody(t, rr)
	assert.Equal(t, "failed to issue tokens", body["message"])
	assert.Equal(t, "failed to issue tokens: sign jwt: bad key", body["detail"])
}

func TestResponderLockedSetsRetryAfter(t *testing.T) {
	responder := newTestResponder(true)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	responder.now = func() time.Time { return now }

	rr := httptest.NewRecorder()
	responder.Error(rr, httptest.NewRequest(http.MethodPost, "/", nil), apperr.Locked("locked", now.Add(2*time.Hour)))

	assert.Equal(t, http.StatusLocked, rr.Code)
	assert.Equal(t, "7200", rr.Header().Get("Retry-After"))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"email":"a@b.co"}`},
		{name: "unknown field", body: `{"email":"a@b.co","otp":1}`, wantErr: true},
		{name: "trailing data", body: `{"email":"a@b.co"}{}`, wantErr: true},
		{name: "malformed", body: `{"email":`, wantErr: true},
		{name: "too large", body: `{"email":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a@b.co", dst.Email)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
