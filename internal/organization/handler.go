package organization

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/httpx"
)

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

const maxNameLength = 150

// StaffDirectory lists the accounts attached to an organization on behalf of
// a viewer.
type StaffDirectory interface {
	OrganizationStaff(ctx context.Context, viewer auth.Account, organizationID string) ([]auth.Account, error)
}

type Handler struct {
	repo      *Repository
	staff     StaffDirectory
	responder *httpx.Responder
}

func NewHandler(repo *Repository, staff StaffDirectory, responder *httpx.Responder) *Handler {
	return &Handler{repo: repo, staff: staff, responder: responder}
}

func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgType := auth.OrganizationType(r.URL.Query().Get("type"))
	if orgType != "" && !orgType.Valid() {
		h.responder.Error(w, r, apperr.Validation("Invalid organization type"))
		return
	}

	organizations, err := h.repo.List(r.Context(), orgType)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, organizations, "Organizations fetched successfully")
}

func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.Error(w, r, notFound(err))
		return
	}

	h.responder.Success(w, http.StatusOK, o, "Organization fetched successfully")
}

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if err := normalizeInput(&input); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	o, err := h.repo.Create(r.Context(), input)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusCreated, o, "Organization created successfully")
}

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	viewer, ok := auth.AccountFromContext(r.Context())
	if !ok {
		h.responder.Error(w, r, apperr.Unauthorized("Access token is required"))
		return
	}

	id := r.PathValue("id")
	if _, err := h.repo.Get(r.Context(), id); err != nil {
		h.responder.Error(w, r, notFound(err))
		return
	}

	staff, err := h.staff.OrganizationStaff(r.Context(), viewer, id)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.Success(w, http.StatusOK, staff, "Staff fetched successfully")
}

func normalizeInput(input *Input) error {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)
	input.EmergencyPhone = strings.TrimSpace(input.EmergencyPhone)
	input.Address.Street = strings.TrimSpace(input.Address.Street)
	input.Address.City = strings.TrimSpace(input.Address.City)
	input.Address.State = strings.TrimSpace(input.Address.State)
	input.Address.Pincode = strings.TrimSpace(input.Address.Pincode)

	if !input.Type.Valid() {
		return apperr.Validation("Invalid organization type")
	}
	if input.Name == "" {
		return apperr.Validation("Organization name is required")
	}
	if !utf8.ValidString(input.Name) || len(input.Name) > maxNameLength {
		return apperr.Validation("Organization name is invalid")
	}
	if input.Email != "" {
		if _, err := mail.ParseAddress(input.Email); err != nil {
			return apperr.Validation("Invalid email format")
		}
	}
	for _, phone := range []string{input.Phone, input.EmergencyPhone} {
		if phone != "" && !phonePattern.MatchString(phone) {
			return apperr.Validation("Please enter a valid 10-digit phone number")
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("Organization not found")
	}
	return err
}
