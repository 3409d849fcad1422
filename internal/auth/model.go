package auth

import "time"

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleDonor          Role = "donor"
	RoleHospitalAdmin  Role = "hospital_admin"
	RoleBloodBankAdmin Role = "blood_bank_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDonor, RoleHospitalAdmin, RoleBloodBankAdmin:
		return true
	}
	return false
}

type OrganizationType string

const (
	OrganizationHospital  OrganizationType = "Hospital"
	OrganizationBloodBank OrganizationType = "BloodBank"
)

func (t OrganizationType) Valid() bool {
	return t == OrganizationHospital || t == OrganizationBloodBank
}

type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationApproved   RegistrationStatus = "approved"
	RegistrationRejected   RegistrationStatus = "rejected"
	RegistrationIncomplete RegistrationStatus = "incomplete"
)

type Permission struct {
	Module  string   `json:"module"`
	Actions []string `json:"actions"`
}

type OrganizationRef struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type OrganizationType `json:"type"`
}

type OrganizationInfo struct {
	OrganizationID   string           `json:"organizationId,omitempty"`
	OrganizationType OrganizationType `json:"organizationType"`
	OrganizationName string           `json:"organizationName"`
	Designation      string           `json:"designation"`
	Department       string           `json:"department,omitempty"`
	EmployeeID       string           `json:"employeeId,omitempty"`
	JoiningDate      *time.Time       `json:"joiningDate,omitempty"`
	Permissions      []Permission     `json:"permissions"`

	// Organization is the resolved organization record, when linked.
	Organization *OrganizationRef `json:"organization,omitempty"`
}

type DonorProfile struct {
	DonorID            string             `json:"donorId,omitempty"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	RegistrationDate   *time.Time         `json:"registrationDate,omitempty"`
}

type AccountStatus struct {
	IsActive      bool       `json:"isActive"`
	IsVerified    bool       `json:"isVerified"`
	EmailVerified bool       `json:"emailVerified"`
	PhoneVerified bool       `json:"phoneVerified"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	LoginAttempts int        `json:"loginAttempts"`
	LockUntil     *time.Time `json:"lockUntil,omitempty"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Pincode string `json:"pincode,omitempty"`
	Country string `json:"country,omitempty"`
}

type EmergencyContact struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
}

type PersonalInfo struct {
	DateOfBirth       *time.Time         `json:"dateOfBirth,omitempty"`
	Gender            string             `json:"gender,omitempty"`
	ContactNumber     string             `json:"contactNumber,omitempty"`
	AlternateNumber   string             `json:"alternateNumber,omitempty"`
	ProfilePicture    string             `json:"profilePicture,omitempty"`
	Address           Address            `json:"address"`
	EmergencyContacts []EmergencyContact `json:"emergencyContacts"`
}

type NotificationPreferences struct {
	Email         bool `json:"email"`
	SMS           bool `json:"sms"`
	Push          bool `json:"push"`
	EmergencyOnly bool `json:"emergencyOnly"`
}

type Preferences struct {
	Language       string                  `json:"language"`
	Timezone       string                  `json:"timezone"`
	Notifications  NotificationPreferences `json:"notifications"`
	DashboardTheme string                  `json:"dashboardTheme"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Language: "en",
		Timezone: "Asia/Kolkata",
		Notifications: NotificationPreferences{
			Email: true,
			SMS:   true,
			Push:  true,
		},
		DashboardTheme: "light",
	}
}

type Account struct {
	ID               string            `json:"id"`
	Username         string            `json:"username"`
	Email            string            `json:"email"`
	FullName         string            `json:"fullName"`
	PasswordHash     string            `json:"-"`
	Role             Role              `json:"role"`
	PersonalInfo     PersonalInfo      `json:"personalInfo"`
	OrganizationInfo *OrganizationInfo `json:"organizationInfo,omitempty"`
	DonorProfile     *DonorProfile     `json:"donorProfile,omitempty"`
	AccountStatus    AccountStatus     `json:"accountStatus"`
	Preferences      Preferences       `json:"preferences"`
	RefreshTokenHash string            `json:"-"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// IsLocked reports whether a lockout is in force at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.AccountStatus.LockUntil != nil && a.AccountStatus.LockUntil.After(now)
}

// OrganizationType returns the linked organization type, or "" when the
// account has no organization.
func (a Account) OrganizationType() OrganizationType {
	if a.OrganizationInfo == nil {
		return ""
	}
	return a.OrganizationInfo.OrganizationType
}

func (a Account) OrganizationID() string {
	if a.OrganizationInfo == nil {
		return ""
	}
	return a.OrganizationInfo.OrganizationID
}

// Sanitized strips credential material from the account.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.RefreshTokenHash = ""
	return a
}

type APIKey struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"-"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	IsActive    bool       `json:"isActive"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type LoginResult struct {
	Account   Account `json:"user"`
	TokenPair
	Dashboard string `json:"dashboard"`
}

type ListFilter struct {
	Role   Role
	Active *bool
	Page   int
	Limit  int
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type AccountPage struct {
	Users      []Account  `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type Stats struct {
	TotalUsers  int `json:"totalUsers"`
	ActiveUsers int `json:"activeUsers"`
	Donors      int `json:"donors"`
	Hospitals   int `json:"hospitals"`
	BloodBanks  int `json:"bloodBanks"`
}

// DashboardRoute is the frontend landing page for a role.
func DashboardRoute(role Role) string {
	switch role {
	case RoleAdmin:
		return "/admin/dashboard"
	case RoleDonor:
		return "/donor/dashboard"
	case RoleHospitalAdmin:
		return "/hospital/dashboard"
	case RoleBloodBankAdmin:
		return "/blood-bank/dashboard"
	default:
		return "/dashboard"
	}
}
