package auth

import "time"

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 2 * time.Hour
)

type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: defaultMaxAttempts, Duration: defaultLockDuration}
}

// LoginState is the persisted failed-login counter of an account.
type LoginState struct {
	Attempts  int
	LockUntil *time.Time
}

func (s LoginState) LockedAt(now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// NextFailure applies one failed login to state. An expired lock starts a new
// cycle at one attempt; reaching MaxAttempts while unlocked sets a lock.
func (p LockoutPolicy) NextFailure(state LoginState, now time.Time) LoginState {
	if state.LockUntil != nil && !state.LockUntil.After(now) {
		return LoginState{Attempts: 1}
	}

	next := LoginState{Attempts: state.Attempts + 1, LockUntil: state.LockUntil}
	if next.Attempts >= p.MaxAttempts && !state.LockedAt(now) {
		until := now.Add(p.Duration)
		next.LockUntil = &until
	}

	return next
}
