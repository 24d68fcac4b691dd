// ABOUTME: Scan root file discovery for the pipeline.
// ABOUTME: Walks the tree collecting eligible files, honoring .gitignore patterns.

package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// structuredExtensions are the file types the rule engines understand: source,
// data, and script files of the Python ecosystem
var structuredExtensions = map[string]bool{
	".py":   true,
	".pyw":  true,
	".txt":  true,
	".json": true,
	".cfg":  true,
	".toml": true,
	".ini":  true,
	".md":   true,
	".sh":   true,
	".yaml": true,
	".yml":  true,
}

// narrativeExtensions restrict the AI method to primary source files
var narrativeExtensions = map[string]bool{
	".py":  true,
	".pyw": true,
}

// directories never worth descending into
var skippedDirs = map[string]bool{
	".git":          true,
	"__pycache__":   true,
	".eggs":         true,
	"node_modules":  true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// discoverFiles walks root and returns the relative paths of files whose
// extension is in eligible, in walk order. Patterns from a root-level
// .gitignore are honored.
func discoverFiles(root string, eligible map[string]bool) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("scan root not accessible: %w", err)
	}

	var matcher *ignore.GitIgnore
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		matcher = ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if rel != "." && (skippedDirs[d.Name()] || (matcher != nil && matcher.MatchesPath(rel))) {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		if !eligible[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk scan root: %w", err)
	}

	return files, nil
}
