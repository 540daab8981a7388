// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"testing"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.AuthProvider == nil {
		t.Error("DefaultOptions().AuthProvider should not be nil")
	}
	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	custom, err := NewStaticCredentialProvider("hunter2")
	if err != nil {
		t.Fatalf("NewStaticCredentialProvider: %v", err)
	}

	newOpts := original.WithAuth(custom)

	if newOpts.AuthProvider != AuthProvider(custom) {
		t.Error("WithAuth should install the custom provider")
	}
	// Original must be unchanged (value semantics)
	if _, ok := original.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("WithAuth must not mutate the receiver")
	}
}

// ============================================================================
// NopAuthProvider Tests
// ============================================================================

func TestNopAuthProvider_AcceptsAnything(t *testing.T) {
	provider := &NopAuthProvider{}

	for _, credential := range []string{"", "anything", "literally anything"} {
		info, err := provider.Validate(context.Background(), credential)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", credential, err)
		}
		if info.UserID != "local-user" {
			t.Errorf("Validate(%q).UserID = %q, want local-user", credential, info.UserID)
		}
		if !info.HasRole("admin") {
			t.Errorf("Validate(%q) should grant admin role", credential)
		}
	}
}

// ============================================================================
// StaticCredentialProvider Tests
// ============================================================================

func TestNewStaticCredentialProvider_RejectsEmptySecret(t *testing.T) {
	if _, err := NewStaticCredentialProvider(""); err == nil {
		t.Fatal("empty secret must be rejected")
	}
}

func TestStaticCredentialProvider_ValidCredential(t *testing.T) {
	provider, err := NewStaticCredentialProvider("s3cret")
	if err != nil {
		t.Fatalf("NewStaticCredentialProvider: %v", err)
	}

	info, err := provider.Validate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("Validate with correct credential: %v", err)
	}
	if info.UserID != "operator" {
		t.Errorf("UserID = %q, want operator", info.UserID)
	}
	if !info.HasRole("operator") {
		t.Error("expected operator role")
	}
}

func TestStaticCredentialProvider_InvalidCredential(t *testing.T) {
	provider, err := NewStaticCredentialProvider("s3cret")
	if err != nil {
		t.Fatalf("NewStaticCredentialProvider: %v", err)
	}

	for _, bad := range []string{"", "S3CRET", "s3cret ", "wrong"} {
		_, err := provider.Validate(context.Background(), bad)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Validate(%q) = %v, want ErrUnauthorized", bad, err)
		}
	}
}

func TestStaticCredentialProvider_RepeatedValidation(t *testing.T) {
	// The enclave is reopened per call; a prior comparison must not
	// destroy the sealed secret.
	provider, err := NewStaticCredentialProvider("s3cret")
	if err != nil {
		t.Fatalf("NewStaticCredentialProvider: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := provider.Validate(context.Background(), "s3cret"); err != nil {
			t.Fatalf("Validate iteration %d: %v", i, err)
		}
		if _, err := provider.Validate(context.Background(), "nope"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Validate(nope) iteration %d = %v, want ErrUnauthorized", i, err)
		}
	}
}

// ============================================================================
// AuthInfo Tests
// ============================================================================

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{UserID: "u", Roles: []string{"operator", "viewer"}}

	if !info.HasRole("operator") {
		t.Error("HasRole(operator) = false, want true")
	}
	if info.HasRole("admin") {
		t.Error("HasRole(admin) = true, want false")
	}
	empty := &AuthInfo{UserID: "u"}
	if empty.HasRole("operator") {
		t.Error("HasRole on empty roles = true, want false")
	}
}
