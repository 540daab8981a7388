// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStacks/services/stackman/datatypes"
)

// newLayout builds a core dir with a manifest and the given connectors.
// Connectors mapped to true get a docker-compose.yml.
func newLayout(t *testing.T, connectors map[string]bool) (*Registry, string, string) {
	t.Helper()
	root := t.TempDir()
	coreDir := filepath.Join(root, "docker")
	connectorsDir := filepath.Join(root, "connectors")
	require.NoError(t, os.MkdirAll(coreDir, 0o755))
	require.NoError(t, os.MkdirAll(connectorsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(coreDir, "docker-compose.yml"), []byte("services: {}\n"), 0o644))

	for name, hasManifest := range connectors {
		dir := filepath.Join(connectorsDir, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		if hasManifest {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services: {}\n"), 0o644))
		}
	}
	return New(coreDir, connectorsDir), coreDir, connectorsDir
}

func TestDiscover_ReflectsLayout(t *testing.T) {
	reg, _, _ := newLayout(t, map[string]bool{
		"misp":      true,
		"abuseipdb": true,
		"shodan":    false, // directory without a manifest
	})

	stacks := reg.Discover()
	require.Len(t, stacks, 4)

	assert.Equal(t, "core", stacks[0].Name)
	assert.Equal(t, datatypes.StackKindCore, stacks[0].Kind)
	assert.True(t, stacks[0].HasManifest)

	// Connectors are sorted by name.
	assert.Equal(t, "abuseipdb", stacks[1].Name)
	assert.Equal(t, "misp", stacks[2].Name)
	assert.Equal(t, "shodan", stacks[3].Name)
	assert.True(t, stacks[1].HasManifest)
	assert.False(t, stacks[3].HasManifest)
	assert.Empty(t, stacks[3].ManifestPath)
}

func TestDiscover_TracksCreateAndRemove(t *testing.T) {
	reg, _, connectorsDir := newLayout(t, map[string]bool{"misp": true})

	first := reg.Discover()
	require.Len(t, first, 2)

	// Add one, remove the other; the next scan must reflect both changes.
	require.NoError(t, os.MkdirAll(filepath.Join(connectorsDir, "urlscan"), 0o755))
	require.NoError(t, os.RemoveAll(filepath.Join(connectorsDir, "misp")))

	second := reg.Discover()
	require.Len(t, second, 2)
	assert.Equal(t, "core", second[0].Name)
	assert.Equal(t, "urlscan", second[1].Name)
}

func TestDiscover_Idempotent(t *testing.T) {
	reg, _, _ := newLayout(t, map[string]bool{"misp": true, "shodan": true})

	first := reg.Discover()
	second := reg.Discover()
	assert.Equal(t, first, second)
}

func TestDiscover_MissingBranchesAreEmptyNotFatal(t *testing.T) {
	root := t.TempDir()
	reg := New(filepath.Join(root, "no-core"), filepath.Join(root, "no-connectors"))

	assert.Empty(t, reg.Discover())
	assert.Empty(t, reg.Connectors())
}

func TestDiscover_SkipsInvalidDirectoryNames(t *testing.T) {
	reg, _, connectorsDir := newLayout(t, map[string]bool{"misp": true})
	require.NoError(t, os.MkdirAll(filepath.Join(connectorsDir, ".hidden"), 0o755))

	stacks := reg.Discover()
	require.Len(t, stacks, 2)
	assert.Equal(t, "misp", stacks[1].Name)
}

func TestConnectors_ReportsManifestPresence(t *testing.T) {
	reg, _, _ := newLayout(t, map[string]bool{"misp": true, "shodan": false})

	infos := reg.Connectors()
	require.Len(t, infos, 2)
	assert.Equal(t, datatypes.ConnectorInfo{Name: "misp", HasConfig: true}, infos[0])
	assert.Equal(t, datatypes.ConnectorInfo{Name: "shodan", HasConfig: false}, infos[1])
}

func TestConnector_RejectsTraversalNames(t *testing.T) {
	reg, _, _ := newLayout(t, map[string]bool{"misp": true})

	for _, name := range []string{"..", "../misp", "a/b", `a\b`, ".hidden", ""} {
		_, err := reg.Connector(name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestConnector_UnknownName(t *testing.T) {
	reg, _, _ := newLayout(t, map[string]bool{"misp": true})

	_, err := reg.Connector("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnector_ResolvesManifest(t *testing.T) {
	reg, _, connectorsDir := newLayout(t, map[string]bool{"misp": true})

	stack, err := reg.Connector("misp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(connectorsDir, "misp", "docker-compose.yml"), stack.ManifestPath)
	assert.Equal(t, filepath.Join(connectorsDir, "misp"), stack.Dir)
	assert.True(t, stack.HasManifest)
}

func TestCore_AcceptedManifestVariants(t *testing.T) {
	root := t.TempDir()
	coreDir := filepath.Join(root, "docker")
	require.NoError(t, os.MkdirAll(coreDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(coreDir, "compose.yaml"), []byte(""), 0o644))
	reg := New(coreDir, filepath.Join(root, "connectors"))

	core, err := reg.Core()
	require.NoError(t, err)
	assert.True(t, core.HasManifest)
	assert.Equal(t, filepath.Join(coreDir, "compose.yaml"), core.ManifestPath)
}

func TestValidName(t *testing.T) {
	valid := []string{"misp", "abuse-ipdb", "connector_1", "a.b", "A9"}
	invalid := []string{"", ".", "..", "-x", ".x", "a/b", "a b", "a\x00b"}

	for _, n := range valid {
		assert.True(t, ValidName(n), "expected %q valid", n)
	}
	for _, n := range invalid {
		assert.False(t, ValidName(n), "expected %q invalid", n)
	}
}
