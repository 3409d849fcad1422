package auth

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bloodbank-auth/internal/apperr"
)

const (
	minPasswordLength = 6
	// bcrypt only hashes the first 72 bytes and rejects longer input.
	maxPasswordLength = 72
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

type RegisterInput struct {
	FullName         string             `json:"fullName"`
	Username         string             `json:"username"`
	Email            string             `json:"email"`
	Password         string             `json:"password"`
	Role             Role               `json:"role"`
	PersonalInfo     *PersonalInfo      `json:"personalInfo,omitempty"`
	OrganizationData *OrganizationInput `json:"organizationData,omitempty"`
}

type OrganizationInput struct {
	OrganizationID   string       `json:"organizationId,omitempty"`
	OrganizationName string       `json:"organizationName"`
	Designation      string       `json:"designation"`
	Department       string       `json:"department,omitempty"`
	EmployeeID       string       `json:"employeeId,omitempty"`
	Permissions      []Permission `json:"permissions,omitempty"`
}

// roleRule describes what registration demands of a role.
type roleRule struct {
	organizationType   OrganizationType
	permissions        func() []Permission
	donorProfile       bool
	allowsOrganization bool
}

var roleRules = map[Role]roleRule{
	RoleAdmin: {},
	RoleDonor: {donorProfile: true},
	RoleHospitalAdmin: {
		organizationType:   OrganizationHospital,
		permissions:        func() []Permission { return DefaultPermissions(RoleHospitalAdmin) },
		allowsOrganization: true,
	},
	RoleBloodBankAdmin: {
		organizationType:   OrganizationBloodBank,
		permissions:        func() []Permission { return DefaultPermissions(RoleBloodBankAdmin) },
		allowsOrganization: true,
	},
}

// newAccountFromInput validates input and builds the account to persist.
// The password hash is left for the caller to fill in.
func newAccountFromInput(input RegisterInput, now time.Time) (Account, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	if input.FullName == "" || input.Username == "" || input.Email == "" || input.Password == "" || input.Role == "" {
		return Account{}, apperr.Validation("All required fields must be provided")
	}

	rule, ok := roleRules[input.Role]
	if !ok {
		return Account{}, apperr.Validation("Invalid role specified")
	}
	if !emailPattern.MatchString(input.Email) {
		return Account{}, apperr.Validation("Invalid email format")
	}
	if len(input.Password) < minPasswordLength {
		return Account{}, apperr.Validation("Password must be at least 6 characters long")
	}
	if len(input.Password) > maxPasswordLength {
		return Account{}, apperr.Validation("Password must be at most 72 bytes long")
	}

	account := Account{
		Username: input.Username,
		Email:    input.Email,
		FullName: input.FullName,
		Role:     input.Role,
		AccountStatus: AccountStatus{
			IsActive:      true,
			IsVerified:    true,
			EmailVerified: true,
		},
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if input.PersonalInfo != nil {
		if err := validatePersonalInfo(*input.PersonalInfo); err != nil {
			return Account{}, err
		}
		account.PersonalInfo = *input.PersonalInfo
	}

	switch {
	case rule.allowsOrganization:
		info, err := organizationInfoFor(rule, input.OrganizationData, now)
		if err != nil {
			return Account{}, err
		}
		account.OrganizationInfo = info
	case input.OrganizationData != nil:
		return Account{}, apperr.Validation("Organization data is only allowed for organization admins")
	}

	if rule.donorProfile {
		registered := now
		account.DonorProfile = &DonorProfile{
			RegistrationStatus: RegistrationIncomplete,
			RegistrationDate:   &registered,
		}
	}

	return account, nil
}

func organizationInfoFor(rule roleRule, data *OrganizationInput, now time.Time) (*OrganizationInfo, error) {
	if data == nil {
		return nil, apperr.Validation("Organization data required for admin roles")
	}

	name := strings.TrimSpace(data.OrganizationName)
	if name == "" {
		return nil, apperr.Validation("Organization organizationName is required")
	}
	designation := strings.TrimSpace(data.Designation)
	if designation == "" {
		return nil, apperr.Validation("Organization designation is required")
	}

	department := strings.TrimSpace(data.Department)
	if department == "" {
		department = "General"
	}
	employeeID := strings.TrimSpace(data.EmployeeID)
	if employeeID == "" {
		employeeID = fmt.Sprintf("EMP%d", now.UnixMilli())
	}

	permissions := data.Permissions
	if len(permissions) == 0 {
		permissions = rule.permissions()
	}
	if err := ValidatePermissions(permissions); err != nil {
		return nil, err
	}

	joined := now
	return &OrganizationInfo{
		OrganizationID:   strings.TrimSpace(data.OrganizationID),
		OrganizationType: rule.organizationType,
		OrganizationName: name,
		Designation:      designation,
		Department:       department,
		EmployeeID:       employeeID,
		JoiningDate:      &joined,
		Permissions:      permissions,
	}, nil
}

func validatePersonalInfo(info PersonalInfo) error {
	if info.ContactNumber != "" && !phonePattern.MatchString(info.ContactNumber) {
		return apperr.Validation("Please enter a valid 10-digit phone number")
	}
	if info.AlternateNumber != "" && !phonePattern.MatchString(info.AlternateNumber) {
		return apperr.Validation("Please enter a valid 10-digit phone number")
	}
	for _, contact := range info.EmergencyContacts {
		if strings.TrimSpace(contact.Name) == "" || strings.TrimSpace(contact.Relation) == "" {
			return apperr.Validation("Emergency contact name and relation are required")
		}
		if !phonePattern.MatchString(contact.Phone) {
			return apperr.Validation("Please enter a valid 10-digit phone number")
		}
	}
	return nil
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}
