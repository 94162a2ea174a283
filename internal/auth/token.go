// Package auth issues and validates the bearer tokens protecting the HTTP
// surface. Clients exchange the configured device key for a short-lived HMAC
// token; there is no third-party identity provider in this system.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
	defaultSubject  = "device"
)

var (
	// ErrInvalidDeviceKey indicates the presented device key does not match.
	ErrInvalidDeviceKey = errors.New("auth: invalid device key")

	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingDeviceKey     = errors.New("auth: device key must be configured")
)

// TokenManagerConfig configures the token manager.
type TokenManagerConfig struct {
	DeviceKey     string
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenManager exchanges the device key for bearer tokens and validates them.
type TokenManager struct {
	config TokenManagerConfig
	clock  func() time.Time
}

// NewTokenManager constructs a TokenManager with sane defaults.
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.DeviceKey) == "" {
		return nil, errMissingDeviceKey
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &TokenManager{config: cfg, clock: cfg.Clock}, nil
}

// IssueToken verifies the device key and returns a signed token plus its
// lifetime in seconds. deviceName labels the requesting device and becomes the
// token subject.
func (m *TokenManager) IssueToken(_ context.Context, deviceKey, deviceName string) (string, int64, error) {
	if subtle.ConstantTimeCompare([]byte(deviceKey), []byte(m.config.DeviceKey)) != 1 {
		return "", 0, ErrInvalidDeviceKey
	}

	subject := strings.TrimSpace(deviceName)
	if subject == "" {
		subject = defaultSubject
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.config.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		Audience:  []string{m.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the bearer token is well formed and returns its
// subject (the device name).
func (m *TokenManager) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.config.SigningSecret, nil
		},
		jwt.WithAudience(m.config.Audience),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("auth: token subject missing")
	}
	return claims.Subject, nil
}
