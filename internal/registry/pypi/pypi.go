// ABOUTME: PyPI archive provider that fetches package sdists by name.
// ABOUTME: Resolves the distribution URL via the PyPI JSON API and extracts it locally.

package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/malpack/malscan/internal/registry/archive"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

const defaultIndexURL = "https://pypi.org"

// Provider downloads package source distributions from PyPI
type Provider struct {
	indexURL   string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewProvider creates a PyPI archive provider. An empty indexURL uses pypi.org.
func NewProvider(indexURL string, logger *logrus.Logger) *Provider {
	if indexURL == "" {
		indexURL = defaultIndexURL
	}
	return &Provider{
		indexURL: indexURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "pypi"
}

type releaseFile struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	PackageType string `json:"packagetype"`
}

type packageMetadata struct {
	URLs []releaseFile `json:"urls"`
}

// FetchAndExtract downloads the latest distribution of a package and unpacks
// it under destDir, returning the extracted source root. A missing package is
// reported as types.ErrPackageNotFound, distinct from transient failures.
func (p *Provider) FetchAndExtract(ctx context.Context, packageName, destDir string) (string, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"operation": "fetch_package",
		"package":   packageName,
	})

	dist, err := p.resolveDistribution(ctx, packageName)
	if err != nil {
		return "", err
	}

	logger.WithField("filename", dist.Filename).Info("Downloading package distribution")

	archivePath := filepath.Join(destDir, dist.Filename)
	if err := p.download(ctx, dist.URL, archivePath); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", packageName, err)
	}

	extractDir := filepath.Join(destDir, "src")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction dir: %w", err)
	}
	if err := archive.Extract(archivePath, extractDir); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", packageName, err)
	}

	return archive.SourceRoot(extractDir)
}

func (p *Provider) resolveDistribution(ctx context.Context, packageName string) (*releaseFile, error) {
	metadataURL := fmt.Sprintf("%s/pypi/%s/json", p.indexURL, path.Clean(packageName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query package index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", packageName, types.ErrPackageNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package index returned status %d for %s", resp.StatusCode, packageName)
	}

	var metadata packageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse package metadata: %w", err)
	}
	if len(metadata.URLs) == 0 {
		return nil, fmt.Errorf("%s has no downloadable distributions: %w", packageName, types.ErrPackageNotFound)
	}

	// Prefer the sdist: the scan wants source files, not compiled wheels
	for i := range metadata.URLs {
		if metadata.URLs[i].PackageType == "sdist" {
			return &metadata.URLs[i], nil
		}
	}
	return &metadata.URLs[0], nil
}

func (p *Provider) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}
