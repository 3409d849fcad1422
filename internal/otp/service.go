package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/auth"
	"bloodbank-auth/internal/notify"
	"bloodbank-auth/internal/observability"
)

const (
	defaultCodeTTL     = 5 * time.Minute
	defaultMaxAttempts = 5

	// Entries outlive their code by this long so an expired code is reported
	// as expired rather than missing.
	expiredGrace = 10 * time.Minute

	codeMin = 100000
	codeMax = 999999
)

type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (auth.Account, error)
}

type TokenIssuer interface {
	IssueDonorToken(donorID string) (string, error)
}

type Service struct {
	store       Store
	accounts    AccountFinder
	tokens      TokenIssuer
	channel     notify.Channel
	logger      *observability.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	generate    func() (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
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

func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store Store, accounts AccountFinder, tokens TokenIssuer, channel notify.Channel, opts ...Option) *Service {
	s := &Service{
		store:       store,
		accounts:    accounts,
		tokens:      tokens,
		channel:     channel,
		logger:      observability.NewLogger(),
		ttl:         defaultCodeTTL,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		generate:    generateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request creates a code for the donor registered under email, replacing any
// pending one, and emails it. It returns the donor id to verify against.
func (s *Service) Request(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("Email is required")
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return "", apperr.NotFound("Donor not found")
		}
		return "", err
	}
	if account.Role != auth.RoleDonor {
		return "", apperr.NotFound("Donor not found")
	}
	if !account.AccountStatus.IsActive {
		return "", apperr.Forbidden("Account is deactivated. Please contact support.")
	}

	code, err := s.generate()
	if err != nil {
		return "", apperr.Internal("Failed to generate OTP", err)
	}

	entry := Entry{Code: code, ExpiresAt: s.now().UTC().Add(s.ttl)}
	if err := s.store.Put(ctx, account.ID, entry, s.ttl+expiredGrace); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	err = s.channel.Send(ctx, notify.Message{
		To:      account.Email,
		Subject: "Your OTP Code",
		Body:    fmt.Sprintf("Your OTP is %s. It will expire in %d minutes.", code, int(s.ttl.Minutes())),
	})
	if err != nil {
		_, _ = s.store.Delete(ctx, account.ID)
		s.logger.Error("otp_delivery_failed", map[string]any{"account_id": account.ID, "error": err.Error()})
		return "", apperr.Internal("Failed to send OTP", err)
	}

	observability.RecordOTP("issued")
	s.logger.Info("otp_issued", map[string]any{"account_id": account.ID})

	return account.ID, nil
}

// Verify consumes the pending code for donorID and returns a donor token.
// Wrong guesses are counted; the entry is dropped after maxAttempts of them.
func (s *Service) Verify(ctx context.Context, donorID, code string) (string, error) {
	donorID = strings.TrimSpace(donorID)
	code = strings.TrimSpace(code)
	if donorID == "" || code == "" {
		return "", apperr.Validation("Donor id and OTP are required")
	}

	entry, err := s.store.Get(ctx, donorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observability.RecordOTP("missing")
			return "", apperr.Validation("OTP expired or invalid")
		}
		return "", fmt.Errorf("load otp: %w", err)
	}

	now := s.now().UTC()
	if now.After(entry.ExpiresAt) {
		_, _ = s.store.Delete(ctx, donorID)
		observability.RecordOTP("expired")
		return "", apperr.Validation("OTP expired")
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(entry.Code)) != 1 {
		next := entry
		next.Attempts++
		if next.Attempts >= s.maxAttempts {
			_, _ = s.store.Delete(ctx, donorID)
			s.logger.Warn("otp_attempts_exhausted", map[string]any{"account_id": donorID})
		} else if _, err := s.store.Swap(ctx, donorID, entry, next, entry.ExpiresAt.Sub(now)+expiredGrace); err != nil {
			return "", fmt.Errorf("store otp attempt: %w", err)
		}
		observability.RecordOTP("invalid")
		return "", apperr.Validation("Invalid OTP")
	}

	removed, err := s.store.Delete(ctx, donorID)
	if err != nil {
		return "", fmt.Errorf("consume otp: %w", err)
	}
	if !removed {
		return "", apperr.Validation("OTP expired or invalid")
	}

	token, err := s.tokens.IssueDonorToken(donorID)
	if err != nil {
		return "", apperr.Internal("Failed to issue token", err)
	}

	observability.RecordOTP("verified")
	s.logger.Info("otp_verified", map[string]any{"account_id": donorID})

	return token, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}
