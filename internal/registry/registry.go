// ABOUTME: Archive provider interface and factory.
// ABOUTME: Centralizes provider instantiation for PyPI, S3 mirror, and local modes.

package registry

import (
	"context"
	"fmt"

	"github.com/malpack/malscan/internal/registry/local"
	"github.com/malpack/malscan/internal/registry/pypi"
	"github.com/malpack/malscan/internal/registry/s3mirror"

	"github.com/sirupsen/logrus"
)

// ArchiveProvider fetches a package's source distribution by name and
// materializes it on disk. Implementations must report a missing package as
// types.ErrPackageNotFound so callers can distinguish it from transient
// failures.
type ArchiveProvider interface {
	Name() string
	// FetchAndExtract materializes the package under destDir and returns
	// the directory to scan. destDir is caller-owned scratch space.
	FetchAndExtract(ctx context.Context, packageName, destDir string) (string, error)
}

// Config holds configuration for creating archive providers
type Config struct {
	Mode string // "pypi", "s3", or "local"

	IndexURL string // PyPI index base URL, empty for pypi.org

	S3Bucket string
	S3Prefix string
	S3Region string

	LocalDir string // base directory for local mode
}

// CreateProvider creates an archive provider based on configuration
func CreateProvider(ctx context.Context, config *Config, logger *logrus.Logger) (ArchiveProvider, error) {
	switch config.Mode {
	case "pypi", "":
		return pypi.NewProvider(config.IndexURL, logger), nil
	case "s3":
		if config.S3Bucket == "" {
			return nil, fmt.Errorf("s3 mirror mode requires a bucket")
		}
		return s3mirror.NewProvider(ctx, config.S3Bucket, config.S3Prefix, config.S3Region, logger)
	case "local":
		if config.LocalDir == "" {
			return nil, fmt.Errorf("local mode requires a base directory")
		}
		return local.NewProvider(config.LocalDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported registry mode: %s", config.Mode)
	}
}
