package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrStaleSession     = errors.New("refresh token does not match the active session")
	ErrAPIKeyNotFound   = errors.New("api key not found")
)

// Store persists accounts and their session state. Lookups return
// ErrAccountNotFound when no row matches; writes that hit a unique index
// return ErrDuplicateAccount.
type Store interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	FindByLogin(ctx context.Context, login string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	SaveProfile(ctx context.Context, account Account) (Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ToggleActive(ctx context.Context, id string) (bool, error)

	// RegisterFailedAttempt applies policy to the stored counters atomically
	// and returns the resulting state.
	RegisterFailedAttempt(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (LoginState, error)
	ResetLoginAttempts(ctx context.Context, id string) error

	SaveSession(ctx context.Context, id, refreshHash string, lastLogin time.Time) error
	// RotateSession swaps the stored refresh hash only when it still equals
	// oldHash, returning ErrStaleSession otherwise.
	RotateSession(ctx context.Context, id, oldHash, newHash string) error
	ClearSession(ctx context.Context, id string) error

	ListAccounts(ctx context.Context, filter ListFilter) ([]Account, int, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]Account, error)
	Stats(ctx context.Context) (Stats, error)

	CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error)
	ListAPIKeys(ctx context.Context, accountID string) ([]APIKey, error)
	DeactivateAPIKey(ctx context.Context, accountID, keyID string) error
}

// OrganizationLookup resolves organization references during registration.
type OrganizationLookup interface {
	OrganizationExists(ctx context.Context, id string, t OrganizationType) (bool, error)
}
