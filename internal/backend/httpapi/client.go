// ABOUTME: HTTP client for the MalPack analysis backend service.
// ABOUTME: Implements structured and narrative analyzers over the backend's JSON API.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Client talks to the MalPack backend over HTTP. One instance serves both the
// structured check endpoints and the narrative LLM endpoints.
type Client struct {
	baseURL    string
	method     types.Method
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a backend client for the given base URL. The method
// selects which structured check endpoint AnalyzeFile hits.
func NewClient(baseURL string, method types.Method, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		method:  method,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name returns the analyzer name
func (c *Client) Name() string {
	return "malpack-backend-" + string(c.method)
}

type checkRequest struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	IsBase64 bool   `json:"is_base64"`
}

type checkResponse struct {
	File     string          `json:"file"`
	Status   string          `json:"status"`
	Findings []types.Finding `json:"findings"`
	Stats    struct {
		Total    int `json:"total"`
		Critical int `json:"critical"`
		High     int `json:"high"`
		Warning  int `json:"warning"`
		Info     int `json:"info"`
	} `json:"stats"`
}

// AnalyzeFile runs one file through the backend's structured check endpoint
func (c *Client) AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error) {
	endpoint := c.baseURL + "/api/v1/rule_based_check/check"
	if c.method == types.MethodPatternBased {
		endpoint = c.baseURL + "/api/v1/semgrep_check/check"
	}

	var resp checkResponse
	if err := c.post(ctx, endpoint, checkRequest{FilePath: path, Content: content}, &resp); err != nil {
		return nil, fmt.Errorf("structured analysis of %s failed: %w", path, err)
	}

	return &types.FileOutcome{
		File:     path,
		Status:   types.FileStatus(resp.Status),
		Findings: resp.Findings,
		Stats: map[types.Severity]int{
			types.SeverityCritical: resp.Stats.Critical,
			types.SeverityHigh:     resp.Stats.High,
			types.SeverityWarning:  resp.Stats.Warning,
			types.SeverityInfo:     resp.Stats.Info,
		},
	}, nil
}

type narrativeResponse struct {
	File       string   `json:"file"`
	Malicious  bool     `json:"is_malicious"`
	Confidence string   `json:"confidence"`
	Indicators []string `json:"indicators"`
	Summary    string   `json:"summary"`
	Error      bool     `json:"error"`
}

// AnalyzeFileNarrative runs one file through the backend's LLM check endpoint
func (c *Client) AnalyzeFileNarrative(ctx context.Context, path, content string) (*types.NarrativeOutcome, error) {
	var resp narrativeResponse
	if err := c.post(ctx, c.baseURL+"/api/v1/llm_file_check", checkRequest{FilePath: path, Content: content}, &resp); err != nil {
		return nil, fmt.Errorf("narrative analysis of %s failed: %w", path, err)
	}

	outcome := &types.NarrativeOutcome{
		File:       path,
		Malicious:  resp.Malicious,
		Confidence: resp.Confidence,
		Indicators: resp.Indicators,
		Summary:    resp.Summary,
	}

	if resp.Error {
		// The backend already reduces provider failures to a remediation
		// message in the summary; keep it for the verdict narrative.
		outcome.Errored = true
	} else if strings.HasPrefix(resp.Summary, "Skipped") {
		outcome.Skipped = true
	}

	return outcome, nil
}

type suggestRequest struct {
	PackageName string `json:"package_name"`
}

type suggestResponse struct {
	Success      bool                `json:"success"`
	Error        string              `json:"error"`
	Alternatives []types.Alternative `json:"alternatives"`
}

// SuggestAlternatives asks the backend for safe replacement packages
func (c *Client) SuggestAlternatives(ctx context.Context, packageName string) ([]types.Alternative, error) {
	var resp suggestResponse
	if err := c.post(ctx, c.baseURL+"/api/v1/suggest_alternatives", suggestRequest{PackageName: packageName}, &resp); err != nil {
		return nil, fmt.Errorf("alternative suggestion for %s failed: %w", packageName, err)
	}

	if !resp.Success {
		if err := classifySummary(resp.Error); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("alternative suggestion for %s failed: %s", packageName, resp.Error)
	}

	return resp.Alternatives, nil
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return types.ErrQuotaExhausted
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.ErrAuthFailure
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		}).Warn("Backend returned non-OK status")
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// classifySummary maps backend error prose onto the sentinel errors so the
// caller can surface the right remediation
func classifySummary(summary string) error {
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "quota"), strings.Contains(lower, "resource_exhausted"):
		return types.ErrQuotaExhausted
	case strings.Contains(lower, "api key"), strings.Contains(lower, "unauthenticated"),
		strings.Contains(lower, "permission_denied"):
		return types.ErrAuthFailure
	}
	return nil
}
