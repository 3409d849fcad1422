package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"bloodbank-auth/internal/apperr"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultAPIKeyTTL  = 365 * 24 * time.Hour
	defaultDonorTTL   = 7 * 24 * time.Hour

	apiKeyTokenType = "api_key"
)

type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	APIKeySecret  string
	APIKeyTTL     time.Duration
	DonorSecret   string
	DonorTTL      time.Duration
}

type AccessClaims struct {
	ID               string           `json:"id"`
	Username         string           `json:"username"`
	Email            string           `json:"email"`
	FullName         string           `json:"fullName"`
	Role             Role             `json:"role"`
	OrganizationType OrganizationType `json:"organizationType,omitempty"`
	OrganizationID   string           `json:"organizationId,omitempty"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

type APIKeyClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

type DonorClaims struct {
	DonorID string `json:"donorId"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies every token kind with its own HS256 secret.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	secrets := map[string]string{
		"access token secret":  cfg.AccessSecret,
		"refresh token secret": cfg.RefreshSecret,
		"api key secret":       cfg.APIKeySecret,
		"donor token secret":   cfg.DonorSecret,
	}
	for name, value := range secrets {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.APIKeyTTL <= 0 {
		cfg.APIKeyTTL = defaultAPIKeyTTL
	}
	if cfg.DonorTTL <= 0 {
		cfg.DonorTTL = defaultDonorTTL
	}

	return &TokenIssuer{cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the time source used for issuing and validating.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	if now != nil {
		t.now = now
	}
	return t
}

func (t *TokenIssuer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := t.now().UTC()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (t *TokenIssuer) IssueAccessToken(account Account) (string, error) {
	claims := AccessClaims{
		ID:               account.ID,
		Username:         account.Username,
		Email:            account.Email,
		FullName:         account.FullName,
		Role:             account.Role,
		OrganizationType: account.OrganizationType(),
		OrganizationID:   account.OrganizationID(),
		RegisteredClaims: t.registered(account.ID, t.cfg.AccessTTL),
	}
	return sign(claims, t.cfg.AccessSecret)
}

func (t *TokenIssuer) IssueRefreshToken(account Account) (string, error) {
	claims := RefreshClaims{
		ID:               account.ID,
		RegisteredClaims: t.registered(account.ID, t.cfg.RefreshTTL),
	}
	return sign(claims, t.cfg.RefreshSecret)
}

func (t *TokenIssuer) IssueAPIKey(accountID string) (string, time.Time, error) {
	claims := APIKeyClaims{
		UserID:           accountID,
		Type:             apiKeyTokenType,
		RegisteredClaims: t.registered(accountID, t.cfg.APIKeyTTL),
	}
	token, err := sign(claims, t.cfg.APIKeySecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (t *TokenIssuer) IssueDonorToken(donorID string) (string, error) {
	claims := DonorClaims{
		DonorID:          donorID,
		RegisteredClaims: t.registered(donorID, t.cfg.DonorTTL),
	}
	return sign(claims, t.cfg.DonorSecret)
}

// ParseAccessToken verifies an access token. Failures are Unauthorized and
// carry the verification reason.
func (t *TokenIssuer) ParseAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(token, claims, t.cfg.AccessSecret); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, apperr.Unauthorized("Invalid access token")
	}
	return claims, nil
}

func (t *TokenIssuer) ParseRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(token, claims, t.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, apperr.Unauthorized("Invalid refresh token")
	}
	return claims, nil
}

func (t *TokenIssuer) ParseAPIKey(token string) (*APIKeyClaims, error) {
	claims := &APIKeyClaims{}
	if err := t.parse(token, claims, t.cfg.APIKeySecret); err != nil {
		return nil, err
	}
	if claims.Type != apiKeyTokenType || claims.UserID == "" {
		return nil, apperr.Unauthorized("Invalid api key")
	}
	return claims, nil
}

func (t *TokenIssuer) ParseDonorToken(token string) (*DonorClaims, error) {
	claims := &DonorClaims{}
	if err := t.parse(token, claims, t.cfg.DonorSecret); err != nil {
		return nil, err
	}
	if claims.DonorID == "" {
		return nil, apperr.Unauthorized("Invalid donor token")
	}
	return claims, nil
}

func (t *TokenIssuer) parse(token string, claims jwt.Claims, secret string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Unauthorized("token is empty")
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return apperr.Unauthorized(err.Error())
	}
	if !parsed.Valid {
		return apperr.Unauthorized("token is invalid")
	}
	return nil
}

func sign(claims jwt.Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// hashToken is the stored form of a refresh token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
