// ABOUTME: Archive provider backed by a private S3 PyPI mirror bucket.
// ABOUTME: Fetches package tarballs by key and extracts them for scanning.

package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/malpack/malscan/internal/registry/archive"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Provider fetches package archives from an S3 bucket laid out as
// <prefix><package-name>.tar.gz, the convention used by bandersnatch-style
// internal mirrors.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
	logger *logrus.Logger
}

// NewProvider creates an S3 mirror provider using the default AWS credential chain
func NewProvider(ctx context.Context, bucket, prefix, region string, logger *logrus.Logger) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "s3-mirror"
}

// FetchAndExtract downloads <prefix><name>.tar.gz from the mirror bucket and
// unpacks it under destDir. A missing key maps to types.ErrPackageNotFound.
func (p *Provider) FetchAndExtract(ctx context.Context, packageName, destDir string) (string, error) {
	key := p.prefix + packageName + ".tar.gz"
	logger := p.logger.WithFields(logrus.Fields{
		"operation": "fetch_package_s3",
		"bucket":    p.bucket,
		"key":       key,
	})

	obj, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", fmt.Errorf("%s: %w", packageName, types.ErrPackageNotFound)
		}
		return "", fmt.Errorf("failed to fetch %s from mirror: %w", packageName, err)
	}
	defer obj.Body.Close()

	archivePath := filepath.Join(destDir, packageName+".tar.gz")
	if err := writeBody(archivePath, obj.Body); err != nil {
		return "", fmt.Errorf("failed to store mirror download: %w", err)
	}

	logger.Info("Downloaded package archive from mirror")

	extractDir := filepath.Join(destDir, "src")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction dir: %w", err)
	}
	if err := archive.Extract(archivePath, extractDir); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", packageName, err)
	}

	return archive.SourceRoot(extractDir)
}

func writeBody(dest string, body io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, body)
	return err
}
