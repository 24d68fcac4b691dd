// ABOUTME: Tests for scan root file discovery.
// ABOUTME: Covers extension filtering, skipped directories, and .gitignore handling.

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFilesFiltersByExtension(t *testing.T) {
	root := writeTree(t, map[string]string{
		"setup.py":       "print('hi')",
		"pkg/core.py":    "x = 1",
		"pkg/data.json":  "{}",
		"pkg/binary.so":  "\x00\x01",
		"docs/readme.md": "# pkg",
		"image.png":      "not source",
	})

	files, err := discoverFiles(root, structuredExtensions)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"setup.py", "pkg/core.py", "pkg/data.json", "docs/readme.md",
	}, files)

	narrative, err := discoverFiles(root, narrativeExtensions)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"setup.py", "pkg/core.py"}, narrative)
}

func TestDiscoverFilesSkipsToolingDirs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":                     "x = 1",
		".git/config.py":              "ignored",
		"__pycache__/main.cpython.py": "ignored",
		".pytest_cache/stale.py":      "ignored",
	})

	files, err := discoverFiles(root, structuredExtensions)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, files)
}

func TestDiscoverFilesHonorsGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":        "build/\ngenerated_*.py\n",
		"main.py":           "x = 1",
		"generated_pb.py":   "x = 2",
		"build/artifact.py": "x = 3",
	})

	files, err := discoverFiles(root, structuredExtensions)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, files)
}

func TestDiscoverFilesMissingRoot(t *testing.T) {
	_, err := discoverFiles(filepath.Join(t.TempDir(), "nope"), structuredExtensions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan root not accessible")
}

func TestDiscoverFilesEmptyRoot(t *testing.T) {
	files, err := discoverFiles(t.TempDir(), structuredExtensions)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscoverFilesUppercaseExtension(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "WEIRD.PY"), []byte("x = 1"), 0o644))

	files, err := discoverFiles(root, structuredExtensions)
	require.NoError(t, err)
	assert.Equal(t, []string{"WEIRD.PY"}, files)
}
