// Trustgate - Zero Trust IoT Telemetry Gateway
// Copyright 2026 Trustgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trustgate-io/trustgate

// Package auth issues and validates device JWT tokens. Every token carries
// the device identity it was minted for; a token is never accepted on behalf
// of a different device.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trustgate-io/trustgate/internal/config"
)

// ErrDeviceMismatch is returned when a valid token's device claim does not
// match the device it is being presented for.
var ErrDeviceMismatch = errors.New("token device_id does not match request device")

// DeviceClaims represents the JWT claims carried by a device token.
type DeviceClaims struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	jwt.RegisteredClaims
}

// TokenManager handles device token creation and validation.
// The manager uses HMAC-SHA256 signing.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager from the security configuration.
//
// The JWT secret is stored as []byte and must be non-empty; config.Validate
// already enforces a minimum length, this check is the last line of defense
// for callers that construct SecurityConfig directly.
func NewTokenManager(cfg *config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}

	return &TokenManager{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
	}, nil
}

// Issue creates a signed token for a registered device. The token expires
// after the configured TTL (default one hour).
func (m *TokenManager) Issue(deviceID, deviceType string) (string, error) {
	now := time.Now()
	claims := &DeviceClaims{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// Validate checks a token's signature, expiry and structure and returns its
// claims. Tokens signed with anything other than HMAC are rejected to block
// algorithm confusion attacks.
func (m *TokenManager) Validate(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("token missing device_id claim")
	}

	return claims, nil
}

// ValidateFor validates a token and additionally verifies it was issued to
// the named device. A stolen token from device A presented as device B fails
// here even though the signature is valid.
func (m *TokenManager) ValidateFor(tokenString, deviceID string) (*DeviceClaims, error) {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}
	return claims, nil
}
