// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/notedrop/notedrop/internal/config"
)

// ErrInvalidCredentials is returned for any username/password mismatch. The
// caller must not distinguish unknown user from wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialChecker verifies the admin login against the configured bcrypt
// password hash.
type CredentialChecker struct {
	username     string
	passwordHash []byte
}

// NewCredentialChecker builds a checker from the security configuration.
func NewCredentialChecker(cfg *config.SecurityConfig) (*CredentialChecker, error) {
	if cfg.AdminUsername == "" {
		return nil, fmt.Errorf("admin username is not configured")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("admin password hash is not configured")
	}
	// Fail at startup on a malformed hash rather than on first login.
	if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash is not a valid bcrypt hash: %w", err)
	}

	return &CredentialChecker{
		username:     cfg.AdminUsername,
		passwordHash: []byte(cfg.AdminPasswordHash),
	}, nil
}

// Check verifies a username/password pair, returning ErrInvalidCredentials
// on any mismatch.
func (c *CredentialChecker) Check(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword produces a bcrypt hash for operator tooling.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
