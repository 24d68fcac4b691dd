// ABOUTME: Detection backend interfaces and factory consumed by the scan pipeline.
// ABOUTME: Centralizes analyzer instantiation for HTTP, Azure OpenAI, and mock modes.

package backend

import (
	"context"
	"fmt"

	"github.com/malpack/malscan/internal/backend/httpapi"
	"github.com/malpack/malscan/internal/backend/mock"
	"github.com/malpack/malscan/internal/backend/openai"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// StructuredAnalyzer is a detection engine that returns per-location findings
type StructuredAnalyzer interface {
	Name() string
	AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error)
}

// NarrativeAnalyzer is a detection engine that returns only a natural-language
// classification per file, no code locations.
type NarrativeAnalyzer interface {
	Name() string
	AnalyzeFileNarrative(ctx context.Context, path, content string) (*types.NarrativeOutcome, error)
	SuggestAlternatives(ctx context.Context, packageName string) ([]types.Alternative, error)
}

// Config holds configuration for creating analyzers
type Config struct {
	BackendURL string // base URL of the MalPack analysis backend

	// Azure OpenAI settings for the in-process narrative analyzer. When
	// unset, narrative analysis goes through the HTTP backend instead.
	OpenAIEndpoint   string
	OpenAIKey        string
	OpenAIDeployment string

	MockMode bool // use keyword mocks, no external API calls
}

// CreateStructuredAnalyzer creates a structured analyzer for the given method
func CreateStructuredAnalyzer(config *Config, method types.Method, logger *logrus.Logger) (StructuredAnalyzer, error) {
	if config.MockMode {
		logger.Info("Using mock structured analyzer for testing")
		return mock.NewStructuredBackend(logger), nil
	}

	if config.BackendURL == "" {
		return nil, fmt.Errorf("no analysis backend configured for method %s", method)
	}
	return httpapi.NewClient(config.BackendURL, method, logger), nil
}

// CreateNarrativeAnalyzer creates the narrative analyzer
func CreateNarrativeAnalyzer(config *Config, logger *logrus.Logger) (NarrativeAnalyzer, error) {
	if config.MockMode {
		logger.Info("Using mock narrative analyzer for testing")
		return mock.NewNarrativeBackend(logger), nil
	}

	if config.OpenAIEndpoint != "" && config.OpenAIKey != "" {
		return openai.NewAnalyzer(config.OpenAIEndpoint, config.OpenAIKey, config.OpenAIDeployment, logger)
	}

	if config.BackendURL == "" {
		return nil, fmt.Errorf("no narrative analysis backend configured")
	}
	return httpapi.NewClient(config.BackendURL, types.MethodAI, logger), nil
}
