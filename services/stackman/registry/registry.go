// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry discovers compose stacks from the filesystem layout.
//
// The layout is one core platform directory plus a connectors directory
// with one subdirectory per connector. The registry is the only component
// that touches stack path data; everything else refers to stacks by name
// and resolves them here at the time of use.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
)

// ErrNotFound is returned when a requested stack does not exist on disk.
var ErrNotFound = errors.New("stack not found")

// ErrInvalidName is returned when a stack name falls outside the safe
// identifier space and therefore must not be used to build a path.
var ErrInvalidName = errors.New("invalid stack name")

// manifestNames are the accepted lifecycle-tool file names, checked in
// order. The first match becomes the stack's manifest.
var manifestNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// namePattern is the safe identifier space for connector names. Anything
// else (separators, dot-dot, leading dots) is rejected before any path is
// constructed from it.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Registry scans the stack layout on demand. It holds no cached state:
// Discover is idempotent and side-effect-free beyond reading the
// filesystem, so callers always see the directories present at scan time.
type Registry struct {
	coreDir       string
	connectorsDir string
}

// New returns a registry over the given core and connectors directories.
func New(coreDir, connectorsDir string) *Registry {
	return &Registry{coreDir: coreDir, connectorsDir: connectorsDir}
}

// ValidName reports whether name is inside the safe identifier space.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Discover returns the full current stack set: the core stack (if its
// directory exists) followed by connectors sorted by name.
//
// An unreadable directory yields an empty result for that branch, never an
// error: partial discovery is preferred over total failure.
func (r *Registry) Discover() []datatypes.Stack {
	var stacks []datatypes.Stack

	if core, err := r.Core(); err == nil {
		stacks = append(stacks, core)
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("core stack directory unreadable", "dir", r.coreDir, "error", err)
	}

	entries, err := os.ReadDir(r.connectorsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("connectors directory unreadable", "dir", r.connectorsDir, "error", err)
		}
		return stacks
	}

	connectors := make([]datatypes.Stack, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		dir := filepath.Join(r.connectorsDir, entry.Name())
		manifest, ok := findManifest(dir)
		connectors = append(connectors, datatypes.Stack{
			Name:         entry.Name(),
			Kind:         datatypes.StackKindConnector,
			ManifestPath: manifest,
			HasManifest:  ok,
			Dir:          dir,
		})
	}
	sort.Slice(connectors, func(i, j int) bool {
		return connectors[i].Name < connectors[j].Name
	})

	return append(stacks, connectors...)
}

// Connectors returns the known_connectors payload: every connector with
// whether it has an editable manifest, sorted by name.
func (r *Registry) Connectors() []datatypes.ConnectorInfo {
	infos := []datatypes.ConnectorInfo{}
	for _, s := range r.Discover() {
		if s.Kind != datatypes.StackKindConnector {
			continue
		}
		infos = append(infos, datatypes.ConnectorInfo{Name: s.Name, HasConfig: s.HasManifest})
	}
	return infos
}

// Core resolves the core platform stack.
func (r *Registry) Core() (datatypes.Stack, error) {
	info, err := os.Stat(r.coreDir)
	if err != nil {
		if os.IsNotExist(err) {
			return datatypes.Stack{}, fmt.Errorf("core dir %s: %w", r.coreDir, ErrNotFound)
		}
		return datatypes.Stack{}, fmt.Errorf("stat core dir: %w", err)
	}
	if !info.IsDir() {
		return datatypes.Stack{}, fmt.Errorf("core path %s is not a directory: %w", r.coreDir, ErrNotFound)
	}
	manifest, ok := findManifest(r.coreDir)
	return datatypes.Stack{
		Name:         "core",
		Kind:         datatypes.StackKindCore,
		ManifestPath: manifest,
		HasManifest:  ok,
		Dir:          r.coreDir,
	}, nil
}

// Connector resolves a single connector stack by name. The name is
// validated against the safe identifier space before any path is built
// from it, and the resolved directory is re-checked for containment under
// the connectors root.
func (r *Registry) Connector(name string) (datatypes.Stack, error) {
	if !ValidName(name) {
		return datatypes.Stack{}, fmt.Errorf("connector %q: %w", name, ErrInvalidName)
	}
	dir := filepath.Join(r.connectorsDir, name)
	if !contained(r.connectorsDir, dir) {
		return datatypes.Stack{}, fmt.Errorf("connector %q escapes connectors root: %w", name, ErrInvalidName)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return datatypes.Stack{}, fmt.Errorf("connector %q: %w", name, ErrNotFound)
	}
	manifest, ok := findManifest(dir)
	return datatypes.Stack{
		Name:         name,
		Kind:         datatypes.StackKindConnector,
		ManifestPath: manifest,
		HasManifest:  ok,
		Dir:          dir,
	}, nil
}

// findManifest returns the first accepted manifest file in dir.
func findManifest(dir string) (string, bool) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// contained reports whether path is root itself or a descendant of root.
func contained(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
