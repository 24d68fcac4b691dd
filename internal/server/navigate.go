// ABOUTME: HTTP handlers for finding navigation and manifest annotation.
// ABOUTME: Bridges the navigation engine and annotator to the JSON API.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/malpack/malscan/internal/manifest"
	"github.com/malpack/malscan/internal/navigate"

	"github.com/sirupsen/logrus"
)

type NavigateHandler struct {
	navigator *navigate.Navigator
	logger    *logrus.Logger
}

type NavigateRequest struct {
	Package   string `json:"package"`
	Rule      string `json:"rule,omitempty"`
	Direction string `json:"direction"`
	File      string `json:"file"`
	Line      int    `json:"line"`
}

type NavigateResponse struct {
	Found bool               `json:"found"`
	File  string             `json:"file,omitempty"`
	Line  int                `json:"line,omitempty"`
	Rule  string             `json:"rule_id,omitempty"`
	Loc   *navigate.Location `json:"finding,omitempty"`
}

func NewNavigateHandler(navigator *navigate.Navigator, logger *logrus.Logger) *NavigateHandler {
	return &NavigateHandler{
		navigator: navigator,
		logger:    logger,
	}
}

func (h *NavigateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/navigate")

	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Request body must be valid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Package) == "" {
		http.Error(w, "Package name is required", http.StatusBadRequest)
		return
	}

	direction := navigate.Direction(req.Direction)
	if direction != navigate.Next && direction != navigate.Prev {
		http.Error(w, "Invalid direction. Must be one of: next, prev", http.StatusBadRequest)
		return
	}

	h.navigator.SetPackage(req.Package)
	h.navigator.SetRuleFilter(req.Rule)

	loc, ok := h.navigator.Advance(direction, req.File, req.Line)
	if !ok {
		writeJSON(w, logger, NavigateResponse{Found: false})
		return
	}

	writeJSON(w, logger, NavigateResponse{
		Found: true,
		File:  loc.File,
		Line:  loc.Finding.Line,
		Rule:  loc.Finding.RuleID,
		Loc:   loc,
	})

	logger.WithFields(logrus.Fields{
		"package":   req.Package,
		"direction": direction,
		"file":      loc.File,
		"line":      loc.Finding.Line,
	}).Debug("Served navigation response")
}

// ManifestService is the annotator surface the HTTP layer depends on
type ManifestService interface {
	Annotate(ctx context.Context, doc manifest.Document) ([]manifest.LineVerdict, error)
}

type AnnotateHandler struct {
	annotator ManifestService
	logger    *logrus.Logger
}

type AnnotateRequest struct {
	Text string `json:"text"`
}

type AnnotateResponse struct {
	Text  string                 `json:"text"`
	Lines []manifest.LineVerdict `json:"lines"`
}

func NewAnnotateHandler(annotator ManifestService, logger *logrus.Logger) *AnnotateHandler {
	return &AnnotateHandler{
		annotator: annotator,
		logger:    logger,
	}
}

func (h *AnnotateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/api/v1/manifest/annotate")

	var req AnnotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Request body must be valid JSON", http.StatusBadRequest)
		return
	}

	doc := manifest.NewTextDocument(req.Text)
	lines, err := h.annotator.Annotate(r.Context(), doc)
	if err != nil {
		logger.WithError(err).Warn("Manifest annotation failed")
		http.Error(w, "Manifest annotation failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, logger, AnnotateResponse{Text: doc.Text(), Lines: lines})

	logger.WithField("annotated_lines", len(lines)).Info("Served manifest annotation")
}
