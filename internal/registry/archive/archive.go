// ABOUTME: Archive extraction helpers for downloaded package distributions.
// ABOUTME: Unpacks tar.gz and zip archives with path traversal protection.

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// entries larger than this are refused to keep a hostile archive from
// filling the scratch volume
const maxEntrySize = 64 << 20 // 64 MB

// Extract unpacks an archive file into destDir, picking the format from the
// file name suffix.
func Extract(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTarGz(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".zip"), strings.HasSuffix(archivePath, ".whl"):
		return extractZip(archivePath, destDir)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

// SourceRoot returns the effective scan root after extraction. Python sdists
// unpack into a single "name-version" directory; when that is the case the
// inner directory is the root.
func SourceRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(destDir, entries[0].Name()), nil
	}
	return destDir, nil
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header.Size); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		default:
			// Symlinks and specials are skipped; a package scan only
			// needs regular source files
		}
	}
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer r.Close()

	for _, entry := range r.File {
		target, err := securePath(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", entry.Name, err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
		}
		err = writeEntry(target, rc, int64(entry.UncompressedSize64))
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

// securePath joins an archive entry name onto destDir and rejects entries
// that would escape it
func securePath(destDir, name string) (string, error) {
	base := filepath.Clean(destDir)
	target := filepath.Join(destDir, filepath.Clean(name))
	// A "./" entry, as produced by `tar -czf pkg.tar.gz .`, resolves to the
	// extraction dir itself: a no-op mkdir, not an escape
	if target == base {
		return target, nil
	}
	if !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes extraction dir: %s", name)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, size int64) error {
	if size > maxEntrySize {
		return fmt.Errorf("entry exceeds size limit (%d bytes)", size)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, io.LimitReader(r, maxEntrySize))
	return err
}
