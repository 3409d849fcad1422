package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicyNextFailure(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name         string
		state        LoginState
		wantAttempts int
		wantLock     *time.Time
	}{
		{"first failure", LoginState{}, 1, nil},
		{"fourth failure stays unlocked", LoginState{Attempts: 3}, 4, nil},
		{"fifth failure locks", LoginState{Attempts: 4}, 5, ptr(now.Add(2 * time.Hour))},
		{"expired lock restarts at one", LoginState{Attempts: 5, LockUntil: &past}, 1, nil},
		{"lock expiring now restarts at one", LoginState{Attempts: 5, LockUntil: &now}, 1, nil},
		{"failure while locked keeps lock", LoginState{Attempts: 5, LockUntil: &future}, 6, &future},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := policy.NextFailure(tt.state, now)
			assert.Equal(t, tt.wantAttempts, next.Attempts)
			if tt.wantLock == nil {
				assert.Nil(t, next.LockUntil)
				return
			}
			require.NotNil(t, next.LockUntil)
			assert.Equal(t, *tt.wantLock, *next.LockUntil)
		})
	}
}

func TestIsLockedIsDerivedFromLockUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	account := Account{AccountStatus: AccountStatus{LockUntil: &until}}

	assert.True(t, account.IsLocked(now))
	assert.False(t, account.IsLocked(until))
	assert.False(t, account.IsLocked(until.Add(time.Nanosecond)))
	assert.False(t, Account{}.IsLocked(now))
}

func ptr[T any](v T) *T {
	return &v
}
