// Package otp implements donor login by one-time code sent to the donor's
// email address.
package otp

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("otp entry not found")

// Entry is a pending code for one donor.
type Entry struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// Store keeps pending entries keyed by donor id. An entry disappears once its
// ttl passes; Get then returns ErrNotFound.
type Store interface {
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, key string) (Entry, error)
	// Swap replaces the entry under key with next only while the stored
	// entry still equals prev, and reports whether it did.
	Swap(ctx context.Context, key string, prev, next Entry, ttl time.Duration) (bool, error)
	// Delete reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
}

func (e Entry) equal(other Entry) bool {
	return e.Code == other.Code && e.Attempts == other.Attempts && e.ExpiresAt.Equal(other.ExpiresAt)
}
