// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package editor gates manifest editing behind an unlock credential.
//
// Reads are open; writes require a short-lived edit token obtained by
// presenting the unlock credential, and are refused while the target stack
// is running. The running check happens at write time, not unlock time, so
// a stack started between unlock and save still rejects the save. Every
// successful write leaves a timestamped backup of the previous manifest
// and consumes the token.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStacks/pkg/extensions"
	"github.com/AleutianAI/AleutianStacks/services/stackman/registry"
)

var (
	// ErrLocked is returned when a write carries no valid edit token.
	ErrLocked = errors.New("invalid or expired edit token")

	// ErrRunning is returned when the target stack is up at write time.
	ErrRunning = errors.New("stack is running; stop it before editing its config")

	// ErrNoManifest is returned for connectors without an editable manifest.
	ErrNoManifest = errors.New("connector has no manifest")
)

// DefaultTokenTTL bounds how long an unlock stays usable.
const DefaultTokenTTL = 10 * time.Minute

// StatusSource answers whether a stack is currently running, by status key.
type StatusSource interface {
	Running(key string) bool
}

// Editor owns the edit-token table and performs the guarded file I/O.
type Editor struct {
	auth     extensions.AuthProvider
	registry *registry.Registry
	status   StatusSource
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
}

// New returns an editor. ttl <= 0 selects DefaultTokenTTL.
func New(auth extensions.AuthProvider, reg *registry.Registry, status StatusSource, ttl time.Duration) *Editor {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Editor{
		auth:     auth,
		registry: reg,
		status:   status,
		ttl:      ttl,
		now:      time.Now,
		tokens:   make(map[string]time.Time),
	}
}

// Unlock validates the credential and mints an edit token. The token is
// single-save: a successful Write consumes it.
func (e *Editor) Unlock(ctx context.Context, credential string) (string, error) {
	if _, err := e.auth.Validate(ctx, credential); err != nil {
		slog.Warn("edit unlock rejected")
		return "", err
	}

	token := uuid.New().String()
	e.mu.Lock()
	e.tokens[token] = e.now().Add(e.ttl)
	e.mu.Unlock()

	slog.Info("edit token issued", "ttl", e.ttl)
	return token, nil
}

// ValidToken reports whether token is live. Expired entries are pruned on
// the way through.
func (e *Editor) ValidToken(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	expiry, ok := e.tokens[token]
	if !ok {
		return false
	}
	if e.now().After(expiry) {
		delete(e.tokens, token)
		return false
	}
	return true
}

// revoke removes a token regardless of expiry.
func (e *Editor) revoke(token string) {
	e.mu.Lock()
	delete(e.tokens, token)
	e.mu.Unlock()
}

// Read returns the connector's manifest verbatim.
func (e *Editor) Read(name string) (string, error) {
	stack, err := e.registry.Connector(name)
	if err != nil {
		return "", err
	}
	if !stack.HasManifest {
		return "", fmt.Errorf("connector %q: %w", name, ErrNoManifest)
	}
	content, err := os.ReadFile(stack.ManifestPath)
	if err != nil {
		return "", fmt.Errorf("reading manifest for %q: %w", name, err)
	}
	return string(content), nil
}

// Write replaces the connector's manifest with content and returns the
// backup file name holding the previous content.
//
// The token must be live, the stack must not be running (checked now, not
// at unlock time), and the previous manifest is backed up before the
// replacement lands atomically. On success the token is revoked.
func (e *Editor) Write(token, name, content string) (string, error) {
	if !e.ValidToken(token) {
		return "", ErrLocked
	}

	stack, err := e.registry.Connector(name)
	if err != nil {
		return "", err
	}
	if !stack.HasManifest {
		return "", fmt.Errorf("connector %q: %w", name, ErrNoManifest)
	}
	if e.status.Running(stack.StatusKey()) {
		return "", fmt.Errorf("connector %q: %w", name, ErrRunning)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(stack.ManifestPath); err == nil {
		mode = info.Mode().Perm()
	}

	backup := fmt.Sprintf("%s.bak-%s", stack.ManifestPath, e.now().Format("20060102-150405"))
	prev, err := os.ReadFile(stack.ManifestPath)
	if err != nil {
		return "", fmt.Errorf("reading manifest for backup: %w", err)
	}
	if err := os.WriteFile(backup, prev, mode); err != nil {
		return "", fmt.Errorf("writing backup %s: %w", backup, err)
	}

	if err := replaceFile(stack.ManifestPath, []byte(content), mode); err != nil {
		return "", fmt.Errorf("replacing manifest for %q: %w", name, err)
	}

	e.revoke(token)
	slog.Info("manifest saved", "connector", name, "backup", filepath.Base(backup))
	return filepath.Base(backup), nil
}

// replaceFile lands content at path via a temp file and rename, so readers
// never observe a partially-written manifest.
func replaceFile(path string, content []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
