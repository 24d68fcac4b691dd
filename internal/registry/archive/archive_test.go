// ABOUTME: Tests for package archive extraction.
// ABOUTME: Covers tar.gz and zip unpacking, traversal rejection, and root detection.

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     name,
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg-1.0.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"pkg-1.0/setup.py":    "from setuptools import setup\n",
		"pkg-1.0/pkg/core.py": "x = 1\n",
		"pkg-1.0/pkg/util.py": "y = 2\n",
		"pkg-1.0/README.rst":  "docs\n",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, Extract(archivePath, dest))

	content, err := os.ReadFile(filepath.Join(dest, "pkg-1.0", "pkg", "core.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(content))

	root, err := SourceRoot(dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "pkg-1.0"), root)
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg-1.0.zip")
	writeZip(t, archivePath, map[string]string{
		"setup.py":    "from setuptools import setup\n",
		"pkg/core.py": "x = 1\n",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, Extract(archivePath, dest))

	_, err := os.Stat(filepath.Join(dest, "pkg", "core.py"))
	require.NoError(t, err)

	// Multiple top-level entries: the extraction dir itself is the root
	root, err := SourceRoot(dest)
	require.NoError(t, err)
	assert.Equal(t, dest, root)
}

func TestExtractWheel(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg-1.0-py3-none-any.whl")
	writeZip(t, archivePath, map[string]string{
		"pkg/__init__.py": "",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	assert.NoError(t, Extract(archivePath, dest))
}

func TestExtractDotPrefixedEntries(t *testing.T) {
	// `tar -czf pkg.tar.gz .` roots every entry at "./", including a "./"
	// entry for the directory itself
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"./":            "",
		"./setup.py":    "from setuptools import setup\n",
		"./pkg/":        "",
		"./pkg/core.py": "x = 1\n",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, Extract(archivePath, dest))

	content, err := os.ReadFile(filepath.Join(dest, "pkg", "core.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(content))

	_, err = os.Stat(filepath.Join(dest, "setup.py"))
	assert.NoError(t, err)
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archivePath, map[string]string{
		"../outside.py": "import os\n",
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	err := Extract(archivePath, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes extraction dir")

	_, statErr := os.Stat(filepath.Join(dir, "outside.py"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg.rar")
	require.NoError(t, os.WriteFile(archivePath, []byte("junk"), 0o644))

	err := Extract(archivePath, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive format")
}
