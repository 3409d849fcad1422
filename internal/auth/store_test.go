package auth

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/observability"
)

var _ Store = (*memoryStore)(nil)

// memoryStore is an in-process Store used by the service, guard and handler
// tests.
type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	apiKeys  map[string]APIKey
	now      func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{
		accounts: make(map[string]Account),
		apiKeys:  make(map[string]APIKey),
		now:      now,
	}
}

func (m *memoryStore) CreateAccount(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accounts {
		if existing.Username == account.Username || existing.Email == account.Email {
			return Account{}, ErrDuplicateAccount
		}
	}
	account.ID = uuid.NewString()
	account.CreatedAt = m.now().UTC()
	account.UpdatedAt = account.CreatedAt
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memoryStore) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (m *memoryStore) FindByLogin(_ context.Context, login string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if account.Username == login || account.Email == login {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *memoryStore) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (m *memoryStore) SaveProfile(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[account.ID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	for id, existing := range m.accounts {
		if id != account.ID && existing.Email == account.Email {
			return Account{}, ErrDuplicateAccount
		}
	}

	stored.FullName = account.FullName
	stored.Email = account.Email
	stored.PersonalInfo = account.PersonalInfo
	stored.Preferences = account.Preferences
	stored.OrganizationInfo = account.OrganizationInfo
	stored.UpdatedAt = m.now().UTC()
	m.accounts[account.ID] = stored
	return stored, nil
}

func (m *memoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.update(id, func(a *Account) { a.PasswordHash = passwordHash })
}

func (m *memoryStore) ToggleActive(_ context.Context, id string) (bool, error) {
	var active bool
	err := m.update(id, func(a *Account) {
		a.AccountStatus.IsActive = !a.AccountStatus.IsActive
		active = a.AccountStatus.IsActive
	})
	return active, err
}

func (m *memoryStore) RegisterFailedAttempt(_ context.Context, id string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	var next LoginState
	err := m.update(id, func(a *Account) {
		next = policy.NextFailure(LoginState{Attempts: a.AccountStatus.LoginAttempts, LockUntil: a.AccountStatus.LockUntil}, now)
		a.AccountStatus.LoginAttempts = next.Attempts
		a.AccountStatus.LockUntil = next.LockUntil
	})
	return next, err
}

func (m *memoryStore) ResetLoginAttempts(_ context.Context, id string) error {
	return m.update(id, func(a *Account) {
		a.AccountStatus.LoginAttempts = 0
		a.AccountStatus.LockUntil = nil
	})
}

func (m *memoryStore) SaveSession(_ context.Context, id, refreshHash string, lastLogin time.Time) error {
	return m.update(id, func(a *Account) {
		a.RefreshTokenHash = refreshHash
		a.AccountStatus.LastLogin = &lastLogin
	})
}

func (m *memoryStore) RotateSession(_ context.Context, id, oldHash, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok || account.RefreshTokenHash != oldHash {
		return ErrStaleSession
	}
	account.RefreshTokenHash = newHash
	m.accounts[id] = account
	return nil
}

func (m *memoryStore) ClearSession(_ context.Context, id string) error {
	return m.update(id, func(a *Account) { a.RefreshTokenHash = "" })
}

func (m *memoryStore) ListAccounts(_ context.Context, filter ListFilter) ([]Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]Account, 0)
	for _, account := range m.accounts {
		if filter.Role != "" && account.Role != filter.Role {
			continue
		}
		if filter.Active != nil && account.AccountStatus.IsActive != *filter.Active {
			continue
		}
		matched = append(matched, account)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })

	start := (filter.Page - 1) * filter.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+filter.Limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *memoryStore) ListByOrganization(_ context.Context, organizationID string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	staff := make([]Account, 0)
	for _, account := range m.accounts {
		if account.OrganizationID() == organizationID {
			staff = append(staff, account)
		}
	}
	return staff, nil
}

func (m *memoryStore) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for _, account := range m.accounts {
		stats.TotalUsers++
		if account.AccountStatus.IsActive {
			stats.ActiveUsers++
		}
		switch account.Role {
		case RoleDonor:
			stats.Donors++
		case RoleHospitalAdmin:
			stats.Hospitals++
		case RoleBloodBankAdmin:
			stats.BloodBanks++
		}
	}
	return stats, nil
}

func (m *memoryStore) CreateAPIKey(_ context.Context, key APIKey) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key.ID = uuid.NewString()
	key.CreatedAt = m.now().UTC()
	key.IsActive = true
	m.apiKeys[key.ID] = key
	return key, nil
}

func (m *memoryStore) ListAPIKeys(_ context.Context, accountID string) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]APIKey, 0)
	for _, key := range m.apiKeys {
		if key.AccountID == accountID {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryStore) DeactivateAPIKey(_ context.Context, accountID, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.apiKeys[keyID]
	if !ok || key.AccountID != accountID {
		return ErrAPIKeyNotFound
	}
	key.IsActive = false
	m.apiKeys[keyID] = key
	return nil
}

func (m *memoryStore) update(id string, mutate func(*Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	mutate(&account)
	m.accounts[id] = account
	return nil
}

func (m *memoryStore) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

type fakeOrganizations map[string]OrganizationType

func (f fakeOrganizations) OrganizationExists(_ context.Context, id string, t OrganizationType) (bool, error) {
	got, ok := f[id]
	return ok && got == t, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	service   *Service
	store     *memoryStore
	clock     *testClock
	tokens    *TokenIssuer
	responder *httpx.Responder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	clock := newTestClock()
	tokens, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		APIKeySecret:  "api-key-secret",
		DonorSecret:   "donor-secret",
	})
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	logger := observability.NewLoggerTo(io.Discard)
	store := newMemoryStore(clock.Now)
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger)}, opts...)

	return &testEnv{
		service:   NewService(store, tokens, NewPasswordHasher(minBcryptCost), opts...),
		store:     store,
		clock:     clock,
		tokens:    tokens,
		responder: httpx.NewResponder(logger, true),
	}
}

func (e *testEnv) register(t *testing.T, input RegisterInput) Account {
	t.Helper()
	account, err := e.service.Register(context.Background(), input)
	require.NoError(t, err)
	return account
}

func donorInput(username, password string) RegisterInput {
	return RegisterInput{
		FullName: "Alice Donor",
		Username: username,
		Email:    username + "@x.com",
		Password: password,
		Role:     RoleDonor,
	}
}

func hospitalAdminInput(username string) RegisterInput {
	return RegisterInput{
		FullName: "Hospital Admin",
		Username: username,
		Email:    username + "@hospital.org",
		Password: "secret1",
		Role:     RoleHospitalAdmin,
		OrganizationData: &OrganizationInput{
			OrganizationName: "City Hospital",
			Designation:      "Director",
		},
	}
}
