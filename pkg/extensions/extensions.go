// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines capability interfaces for pluggable security.
//
// This package provides the extension points that let deployments replace
// the built-in shared-credential gate with stronger schemes without
// modifying the core AleutianStacks codebase. The open source version
// ships a static shared secret (sealed in memory via memguard) and a no-op
// provider for tests.
//
// # Design Philosophy
//
// AleutianStacks is designed as a fully functional local control plane
// that works without any identity infrastructure. Hardened deployments
// provide concrete implementations of these interfaces and inject them
// via ServiceOptions.
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups the extension points for service configuration.
//
// Pass this to service constructors. All fields are optional; nil values
// are replaced with no-op defaults when DefaultOptions() is called.
//
// Example:
//
//	// Trusted local deployment: accept anything
//	opts := extensions.DefaultOptions()
//
//	// Shared-secret deployment
//	provider, _ := extensions.NewStaticCredentialProvider(secret)
//	opts := extensions.DefaultOptions().WithAuth(provider)
type ServiceOptions struct {
	// AuthProvider validates unlock credentials for mutating operations.
	// Default: NopAuthProvider (always returns valid local user)
	AuthProvider AuthProvider
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// All operations are allowed; appropriate only for tests and fully
// trusted single-user deployments.
//
// Returns:
//   - ServiceOptions with all fields set to no-op implementations
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}
