// ABOUTME: HTTP handlers for package scan operations.
// ABOUTME: Exposes structured/narrative scans, headless scans, and package cleanup.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// ScanService is the scan pipeline surface the HTTP layer depends on
type ScanService interface {
	Scan(ctx context.Context, pkg string, method types.Method, root string) (*types.ScanSummary, error)
	ScanRemote(ctx context.Context, pkg string, method types.Method) (*types.ScanSummary, error)
	HeadlessScan(ctx context.Context, pkg string, method types.Method) (bool, error)
	SuggestAlternatives(ctx context.Context, pkg string) ([]types.Alternative, error)
	Cleanup(pkg string)
}

type ScanHandler struct {
	scanner ScanService
	logger  *logrus.Logger
}

type ScanRequest struct {
	Package string `json:"package"`
	Method  string `json:"method"`
	Root    string `json:"root,omitempty"`
}

type HeadlessScanResponse struct {
	Package   string `json:"package"`
	Malicious bool   `json:"is_malicious"`
}

func NewScanHandler(scanner ScanService, logger *logrus.Logger) *ScanHandler {
	return &ScanHandler{
		scanner: scanner,
		logger:  logger,
	}
}

func (h *ScanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", r.URL.Path)

	req, ok := decodeScanRequest(w, r, logger)
	if !ok {
		return
	}

	logger.WithFields(logrus.Fields{
		"package": req.Package,
		"method":  req.Method,
		"local":   req.Root != "",
	}).Debug("Processing scan request")

	var summary *types.ScanSummary
	var err error
	if req.Root != "" {
		summary, err = h.scanner.Scan(r.Context(), req.Package, types.Method(req.Method), req.Root)
	} else {
		summary, err = h.scanner.ScanRemote(r.Context(), req.Package, types.Method(req.Method))
	}
	if err != nil {
		writeScanError(w, logger, req.Package, err)
		return
	}

	writeJSON(w, logger, summary)

	logger.WithFields(logrus.Fields{
		"package": summary.Package,
		"verdict": summary.Verdict,
		"files":   summary.FilesScanned,
	}).Info("Served scan response")
}

// Headless serves POST /api/v1/scan/headless: same scan, boolean answer.
func (h *ScanHandler) Headless(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", r.URL.Path)

	req, ok := decodeScanRequest(w, r, logger)
	if !ok {
		return
	}

	malicious, err := h.scanner.HeadlessScan(r.Context(), req.Package, types.Method(req.Method))
	if err != nil {
		writeScanError(w, logger, req.Package, err)
		return
	}

	writeJSON(w, logger, HeadlessScanResponse{Package: req.Package, Malicious: malicious})
}

// Alternatives serves POST /api/v1/alternatives: safe replacement suggestions.
func (h *ScanHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", r.URL.Path)

	var req struct {
		Package string `json:"package"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Package) == "" {
		http.Error(w, "Request body must be JSON with a non-empty package field", http.StatusBadRequest)
		return
	}

	alternatives, err := h.scanner.SuggestAlternatives(r.Context(), req.Package)
	if err != nil {
		writeScanError(w, logger, req.Package, err)
		return
	}

	writeJSON(w, logger, map[string]any{
		"package":      req.Package,
		"alternatives": alternatives,
	})
}

// DeletePackage serves DELETE /api/v1/package/{name}: tears down the
// package's findings and session scratch space.
func (h *ScanHandler) DeletePackage(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/package")

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/package/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Package name is required", http.StatusBadRequest)
		return
	}

	h.scanner.Cleanup(name)
	logger.WithField("package", name).Info("Cleaned up package")
	w.WriteHeader(http.StatusNoContent)
}

func decodeScanRequest(w http.ResponseWriter, r *http.Request, logger *logrus.Entry) (*ScanRequest, bool) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Request body must be valid JSON", http.StatusBadRequest)
		return nil, false
	}

	req.Package = strings.TrimSpace(req.Package)
	if req.Package == "" {
		http.Error(w, "Package name is required", http.StatusBadRequest)
		return nil, false
	}
	if len(req.Package) > 200 {
		http.Error(w, "Package name too long. Maximum allowed is 200 characters", http.StatusBadRequest)
		return nil, false
	}

	switch types.Method(req.Method) {
	case types.MethodRuleBased, types.MethodPatternBased, types.MethodAI, types.MethodClassifier:
	default:
		http.Error(w, "Invalid method. Must be one of: rule_based, pattern_based, ai, classifier", http.StatusBadRequest)
		return nil, false
	}

	return &req, true
}

// writeScanError maps pipeline errors to HTTP statuses. The body names the
// package and cause so a rejected scan is never a silent failure.
func writeScanError(w http.ResponseWriter, logger *logrus.Entry, pkg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrPackageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrQuotaExhausted):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrAuthFailure):
		status = http.StatusBadGateway
	}

	logger.WithFields(logrus.Fields{
		"package": pkg,
		"status":  status,
	}).WithError(err).Warn("Scan request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"package": pkg,
		"error":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, logger *logrus.Entry, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
