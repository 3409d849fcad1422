package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/observability"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type Service struct {
	store         Store
	tokens        *TokenIssuer
	hasher        PasswordHasher
	organizations OrganizationLookup
	lockout       LockoutPolicy
	logger        *observability.Logger
	now           func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithOrganizations(lookup OrganizationLookup) Option {
	return func(s *Service) {
		s.organizations = lookup
	}
}

func WithLockoutPolicy(policy LockoutPolicy) Option {
	return func(s *Service) {
		if policy.MaxAttempts > 0 {
			s.lockout.MaxAttempts = policy.MaxAttempts
		}
		if policy.Duration > 0 {
			s.lockout.Duration = policy.Duration
		}
	}
}

func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(store Store, tokens *TokenIssuer, hasher PasswordHasher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tokens:  tokens,
		hasher:  hasher,
		lockout: DefaultLockoutPolicy(),
		logger:  observability.NewLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Account, error) {
	now := s.now().UTC()
	account, err := newAccountFromInput(input, now)
	if err != nil {
		return Account{}, err
	}

	if info := account.OrganizationInfo; info != nil && info.OrganizationID != "" && s.organizations != nil {
		exists, err := s.organizations.OrganizationExists(ctx, info.OrganizationID, info.OrganizationType)
		if err != nil {
			return Account{}, fmt.Errorf("check organization: %w", err)
		}
		if !exists {
			return Account{}, apperr.NotFound("Organization not found")
		}
	}

	account.PasswordHash, err = s.hasher.Hash(input.Password)
	if err != nil {
		return Account{}, apperr.Internal("Something went wrong while registering user", err)
	}

	created, err := s.store.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			return Account{}, apperr.Conflict("User with email or username already exists")
		}
		return Account{}, err
	}

	s.logger.Info("account_registered", map[string]any{
		"account_id": created.ID,
		"role":       string(created.Role),
	})

	return created.Sanitized(), nil
}

type LoginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	login := strings.ToLower(strings.TrimSpace(input.Username))
	if login == "" {
		login = strings.ToLower(strings.TrimSpace(input.Email))
	}
	if login == "" {
		return LoginResult{}, apperr.Validation("Username or email is required")
	}
	if input.Password == "" {
		return LoginResult{}, apperr.Validation("Password is required")
	}

	account, err := s.store.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			observability.RecordLogin("unknown_account")
			return LoginResult{}, apperr.NotFound("User does not exist")
		}
		return LoginResult{}, err
	}

	now := s.now().UTC()
	if account.IsLocked(now) {
		observability.RecordLogin("locked")
		return LoginResult{}, apperr.Locked("Account is locked due to too many failed login attempts. Try again later.", *account.AccountStatus.LockUntil)
	}
	if !account.AccountStatus.IsActive {
		observability.RecordLogin("inactive")
		return LoginResult{}, apperr.Forbidden("Account is deactivated. Please contact support.")
	}

	if !s.hasher.Verify(account.PasswordHash, input.Password) {
		if err := s.recordFailure(ctx, account, now); err != nil {
			return LoginResult{}, err
		}
		observability.RecordLogin("invalid_credentials")
		return LoginResult{}, apperr.Unauthorized("Invalid credentials")
	}

	if account.AccountStatus.LoginAttempts > 0 || account.AccountStatus.LockUntil != nil {
		if err := s.store.ResetLoginAttempts(ctx, account.ID); err != nil {
			return LoginResult{}, err
		}
		account.AccountStatus.LoginAttempts = 0
		account.AccountStatus.LockUntil = nil
	}

	pair, err := s.startSession(ctx, account, now)
	if err != nil {
		return LoginResult{}, err
	}
	account.AccountStatus.LastLogin = &now

	observability.RecordLogin("success")
	s.logger.Info("login_succeeded", map[string]any{"account_id": account.ID})

	return LoginResult{
		Account:   account.Sanitized(),
		TokenPair: pair,
		Dashboard: DashboardRoute(account.Role),
	}, nil
}

func (s *Service) recordFailure(ctx context.Context, account Account, now time.Time) error {
	before := LoginState{Attempts: account.AccountStatus.LoginAttempts, LockUntil: account.AccountStatus.LockUntil}
	after, err := s.store.RegisterFailedAttempt(ctx, account.ID, s.lockout, now)
	if err != nil {
		return err
	}

	if after.LockedAt(now) && !before.LockedAt(now) {
		observability.RecordLockout()
		s.logger.Warn("account_locked", map[string]any{
			"account_id": account.ID,
			"attempts":   after.Attempts,
			"lock_until": after.LockUntil.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, account Account, now time.Time) (TokenPair, error) {
	pair, err := s.issuePair(account)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.SaveSession(ctx, account.ID, hashToken(pair.RefreshToken), now); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) issuePair(account Account) (TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(account)
	if err != nil {
		return TokenPair{}, apperr.Internal("Something went wrong while generating refresh and access token", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(account)
	if err != nil {
		return TokenPair{}, apperr.Internal("Something went wrong while generating refresh and access token", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges the account's current refresh token for a new pair. A
// token that was already rotated away is rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, apperr.Unauthorized("Unauthorized request")
	}

	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	account, err := s.store.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return TokenPair{}, apperr.Unauthorized("Invalid refresh token")
		}
		return TokenPair{}, err
	}

	presented := hashToken(refreshToken)
	if account.RefreshTokenHash == "" || account.RefreshTokenHash != presented {
		s.logger.Warn("refresh_token_reuse", map[string]any{"account_id": account.ID})
		return TokenPair{}, apperr.Unauthorized("Refresh token is expired or used")
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RotateSession(ctx, account.ID, presented, hashToken(pair.RefreshToken)); err != nil {
		if errors.Is(err, ErrStaleSession) {
			return TokenPair{}, apperr.Unauthorized("Refresh token is expired or used")
		}
		return TokenPair{}, err
	}

	return pair, nil
}

func (s *Service) Logout(ctx context.Context, accountID string) error {
	return s.store.ClearSession(ctx, accountID)
}

func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("Both old and new passwords are required")
	}
	if len(newPassword) < minPasswordLength {
		return apperr.Validation("New password must be at least 6 characters long")
	}
	if len(newPassword) > maxPasswordLength {
		return apperr.Validation("New password must be at most 72 bytes long")
	}

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return apperr.NotFound("User not found")
		}
		return err
	}
	if !s.hasher.Verify(account.PasswordHash, oldPassword) {
		return apperr.Validation("Invalid old password")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Internal("failed to change password", err)
	}
	return s.store.UpdatePassword(ctx, accountID, hash)
}

// Authenticate verifies a session token and loads its account. Access tokens
// are tried first; a donor token from OTP login is accepted for donor
// accounts only.
func (s *Service) Authenticate(ctx context.Context, token string) (Account, error) {
	accountID, donorToken := "", false
	claims, err := s.tokens.ParseAccessToken(token)
	if err == nil {
		accountID = claims.ID
	} else {
		donor, donorErr := s.tokens.ParseDonorToken(token)
		if donorErr != nil {
			return Account{}, err
		}
		accountID, donorToken = donor.DonorID, true
	}

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, apperr.Unauthorized("Invalid access token")
		}
		return Account{}, err
	}
	if donorToken && account.Role != RoleDonor {
		return Account{}, apperr.Unauthorized("Invalid access token")
	}

	return account.Sanitized(), nil
}

// AuthenticateAPIKey accepts a key from GenerateAPIKey while the stored key
// is active and unexpired.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (Account, error) {
	claims, err := s.tokens.ParseAPIKey(key)
	if err != nil {
		return Account{}, err
	}

	keys, err := s.store.ListAPIKeys(ctx, claims.UserID)
	if err != nil {
		return Account{}, err
	}
	now := s.now()
	valid := false
	for _, stored := range keys {
		if !stored.IsActive || (stored.ExpiresAt != nil && !now.Before(*stored.ExpiresAt)) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(stored.Key), []byte(key)) == 1 {
			valid = true
			break
		}
	}
	if !valid {
		return Account{}, apperr.Unauthorized("Invalid api key")
	}

	account, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, apperr.Unauthorized("Invalid api key")
		}
		return Account{}, err
	}
	return account.Sanitized(), nil
}

// Now is the service clock, shared with the request guards.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) FindByEmail(ctx context.Context, email string) (Account, error) {
	account, err := s.store.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, apperr.NotFound("User does not exist")
		}
		return Account{}, err
	}
	return account.Sanitized(), nil
}

type ProfileUpdate struct {
	FullName          string             `json:"fullName,omitempty"`
	Email             string             `json:"email,omitempty"`
	Phone             string             `json:"phone,omitempty"`
	Address           *Address           `json:"address,omitempty"`
	DateOfBirth       *time.Time         `json:"dateOfBirth,omitempty"`
	Gender            string             `json:"gender,omitempty"`
	EmergencyContacts []EmergencyContact `json:"emergencyContacts,omitempty"`
}

// UpdatePersonalInfo applies the non-empty fields of update.
func (s *Service) UpdatePersonalInfo(ctx context.Context, accountID string, update ProfileUpdate) (Account, error) {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	if name := strings.TrimSpace(update.FullName); name != "" {
		account.FullName = name
	}
	if email := strings.ToLower(strings.TrimSpace(update.Email)); email != "" {
		if !validEmail(email) {
			return Account{}, apperr.Validation("Invalid email format")
		}
		account.Email = email
	}
	if update.Phone != "" {
		account.PersonalInfo.ContactNumber = strings.TrimSpace(update.Phone)
	}
	if update.Address != nil {
		account.PersonalInfo.Address = *update.Address
	}
	if update.DateOfBirth != nil {
		account.PersonalInfo.DateOfBirth = update.DateOfBirth
	}
	if update.Gender != "" {
		account.PersonalInfo.Gender = update.Gender
	}
	if update.EmergencyContacts != nil {
		account.PersonalInfo.EmergencyContacts = update.EmergencyContacts
	}
	if err := validatePersonalInfo(account.PersonalInfo); err != nil {
		return Account{}, err
	}

	return s.saveProfile(ctx, account, "Email already in use")
}

type PreferencesUpdate struct {
	Language       string                   `json:"language,omitempty"`
	Timezone       string                   `json:"timezone,omitempty"`
	Notifications  *NotificationPreferences `json:"notifications,omitempty"`
	DashboardTheme string                   `json:"dashboardTheme,omitempty"`
}

func (s *Service) UpdatePreferences(ctx context.Context, accountID string, update PreferencesUpdate) (Account, error) {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	if update.Language != "" {
		account.Preferences.Language = update.Language
	}
	if update.Timezone != "" {
		if _, err := time.LoadLocation(update.Timezone); err != nil {
			return Account{}, apperr.Validation("Invalid timezone")
		}
		account.Preferences.Timezone = update.Timezone
	}
	if update.Notifications != nil {
		account.Preferences.Notifications = *update.Notifications
	}
	switch update.DashboardTheme {
	case "":
	case "light", "dark":
		account.Preferences.DashboardTheme = update.DashboardTheme
	default:
		return Account{}, apperr.Validation("Invalid dashboard theme")
	}

	return s.saveProfile(ctx, account, "")
}

type OrganizationUpdate struct {
	Designation string       `json:"designation,omitempty"`
	Department  string       `json:"department,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

func (s *Service) UpdateOrganizationInfo(ctx context.Context, accountID string, update OrganizationUpdate) (Account, error) {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if !isOrganizationAdmin(account.Role) || account.OrganizationInfo == nil {
		return Account{}, apperr.Forbidden("Only organization admins can update organization info")
	}

	if v := strings.TrimSpace(update.Designation); v != "" {
		account.OrganizationInfo.Designation = v
	}
	if v := strings.TrimSpace(update.Department); v != "" {
		account.OrganizationInfo.Department = v
	}
	if update.Permissions != nil {
		if err := ValidatePermissions(update.Permissions); err != nil {
			return Account{}, err
		}
		account.OrganizationInfo.Permissions = update.Permissions
	}

	return s.saveProfile(ctx, account, "")
}

func (s *Service) load(ctx context.Context, accountID string) (Account, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, apperr.NotFound("User not found")
		}
		return Account{}, err
	}
	return account, nil
}

func (s *Service) saveProfile(ctx context.Context, account Account, conflictMessage string) (Account, error) {
	saved, err := s.store.SaveProfile(ctx, account)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAccount) && conflictMessage != "":
			return Account{}, apperr.Conflict(conflictMessage)
		case errors.Is(err, ErrAccountNotFound):
			return Account{}, apperr.NotFound("User not found")
		}
		return Account{}, err
	}
	return saved.Sanitized(), nil
}

type APIKeyInput struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

func (s *Service) GenerateAPIKey(ctx context.Context, accountID string, input APIKeyInput) (APIKey, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return APIKey{}, apperr.Validation("API key name is required")
	}
	permissions := input.Permissions
	if len(permissions) == 0 {
		permissions = []string{"read"}
	}

	token, expiresAt, err := s.tokens.IssueAPIKey(accountID)
	if err != nil {
		return APIKey{}, apperr.Internal("failed to generate api key", err)
	}

	return s.store.CreateAPIKey(ctx, APIKey{
		AccountID:   accountID,
		Name:        name,
		Key:         token,
		Permissions: permissions,
		ExpiresAt:   &expiresAt,
	})
}

func (s *Service) ListAPIKeys(ctx context.Context, accountID string) ([]APIKey, error) {
	return s.store.ListAPIKeys(ctx, accountID)
}

func (s *Service) DeactivateAPIKey(ctx context.Context, accountID, keyID string) error {
	if err := s.store.DeactivateAPIKey(ctx, accountID, keyID); err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return apperr.NotFound("API key not found")
		}
		return err
	}
	return nil
}

func (s *Service) ListAccounts(ctx context.Context, filter ListFilter) (AccountPage, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return AccountPage{}, apperr.Validation("Invalid role specified")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}

	accounts, total, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return AccountPage{}, err
	}
	for i := range accounts {
		accounts[i] = accounts[i].Sanitized()
	}

	return AccountPage{
		Users: accounts,
		Pagination: Pagination{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: (total + filter.Limit - 1) / filter.Limit,
		},
	}, nil
}

func (s *Service) ToggleStatus(ctx context.Context, accountID string) (bool, error) {
	active, err := s.store.ToggleActive(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, apperr.NotFound("User not found")
		}
		return false, err
	}

	s.logger.Info("account_status_toggled", map[string]any{"account_id": accountID, "active": active})
	return active, nil
}

// DashboardStats returns account counts for admins and zeros for everyone
// else.
func (s *Service) DashboardStats(ctx context.Context, viewer Account) (Stats, error) {
	if viewer.Role != RoleAdmin {
		return Stats{}, nil
	}
	return s.store.Stats(ctx)
}

func (s *Service) OrganizationStaff(ctx context.Context, viewer Account, organizationID string) ([]Account, error) {
	if !CanAccessOrganization(viewer, organizationID) {
		return nil, apperr.Forbidden("You do not have permission to perform this action")
	}

	staff, err := s.store.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	for i := range staff {
		staff[i] = staff[i].Sanitized()
	}
	return staff, nil
}
