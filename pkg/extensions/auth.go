// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ErrUnauthorized is returned when authentication fails.
// Implementations should wrap this error with additional context.
//
// Example:
//
//	if !validCredential {
//	    return nil, fmt.Errorf("bad credential: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the user
//
// Optional fields (may be empty):
//   - Roles: List of roles the user holds
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Roles contains the user's role memberships for authorization
	// decisions. Common roles: "admin", "operator", "viewer"
	Roles []string
}

// HasRole checks if the user has a specific role.
//
// This is a convenience method for authorization checks:
//
//	if !authInfo.HasRole("operator") {
//	    return ErrUnauthorized
//	}
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates credentials and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default deployment uses StaticCredentialProvider: a single shared
// secret gates mutating operations (manifest unlock/save). NopAuthProvider
// is available for tests and fully trusted local setups.
//
// # Stronger Schemes
//
// The editor's state machine only sees this interface, so swapping the
// shared secret for per-user tokens validated against an identity provider
// requires no change to the editing flow:
//
//	type OktaAuthProvider struct {
//	    client *okta.Client
//	}
//
//	func (p *OktaAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
//	    claims, err := p.client.VerifyToken(ctx, token)
//	    if err != nil {
//	        return nil, fmt.Errorf("okta validation failed: %w", ErrUnauthorized)
//	    }
//	    return &AuthInfo{UserID: claims.Subject, Roles: claims.Groups}, nil
//	}
type AuthProvider interface {
	// Validate checks if the credential is valid and returns the caller's
	// identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - credential: The presented secret (shared password, token, API key)
	//
	// Returns:
	//   - *AuthInfo: Identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Validate(ctx context.Context, credential string) (*AuthInfo, error)
}

// NopAuthProvider accepts any credential.
//
// It always returns a valid local user with admin privileges, enabling
// tests and fully trusted single-user deployments to run without any
// authentication configuration.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns a valid local user with admin privileges.
//
// The credential parameter is ignored - any value (including empty string)
// results in successful authentication. This is intentional for local
// single-user deployments.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// StaticCredentialProvider validates callers against a single shared secret.
//
// The secret is sealed in a memguard enclave at construction so the
// plaintext does not sit in garbage-collected heap for the lifetime of the
// process; it is decrypted only for the duration of each comparison.
//
// Thread-safe: the enclave is immutable after construction and
// Enclave.Open is safe for concurrent use.
type StaticCredentialProvider struct {
	secret *memguard.Enclave
}

// NewStaticCredentialProvider seals the shared secret and returns a
// ready-to-use provider.
//
// Returns an error if the secret is empty: an empty shared credential
// would accept empty unlock requests, which is never intended.
func NewStaticCredentialProvider(secret string) (*StaticCredentialProvider, error) {
	if secret == "" {
		return nil, errors.New("shared credential must not be empty")
	}
	return &StaticCredentialProvider{
		secret: memguard.NewEnclave([]byte(secret)),
	}, nil
}

// Validate compares the presented credential against the sealed secret in
// constant time. A match authenticates the caller as the shared operator
// identity.
func (p *StaticCredentialProvider) Validate(_ context.Context, credential string) (*AuthInfo, error) {
	buf, err := p.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening sealed credential: %w", err)
	}
	defer buf.Destroy()

	if subtle.ConstantTimeCompare(buf.Bytes(), []byte(credential)) != 1 {
		return nil, fmt.Errorf("credential mismatch: %w", ErrUnauthorized)
	}
	return &AuthInfo{
		UserID: "operator",
		Roles:  []string{"operator"},
	}, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticCredentialProvider)(nil)
)
