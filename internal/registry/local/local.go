// ABOUTME: Local directory-based archive provider for development and testing.
// ABOUTME: Serves already-materialized package trees without any network fetch.

package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Provider resolves package names to subdirectories of a base directory
type Provider struct {
	baseDir string
	logger  *logrus.Logger
}

// NewProvider creates a local archive provider rooted at baseDir
func NewProvider(baseDir string, logger *logrus.Logger) *Provider {
	return &Provider{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "local"
}

// FetchAndExtract resolves baseDir/packageName. Nothing is copied into
// destDir; the existing tree is the scan root.
func (p *Provider) FetchAndExtract(ctx context.Context, packageName, destDir string) (string, error) {
	root := filepath.Join(p.baseDir, packageName)

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%s: %w", packageName, types.ErrPackageNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat package dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	p.logger.WithFields(logrus.Fields{
		"package": packageName,
		"root":    root,
	}).Debug("Resolved local package root")

	return root, nil
}
