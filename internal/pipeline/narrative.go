// ABOUTME: Narrative (AI-based) scan variant of the pipeline.
// ABOUTME: Classifies per-file model responses and synthesizes a package-level narrative.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/malpack/malscan/internal/scheduler"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

func (s *Scanner) scanNarrative(ctx context.Context, session *Session) (*types.ScanSummary, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"operation": "scan_narrative",
		"package":   session.Package,
	})

	if s.narrative == nil {
		return nil, fmt.Errorf("no narrative analyzer configured")
	}

	files, err := discoverFiles(session.Root, narrativeExtensions)
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", session.Package, err)
	}
	if len(files) == 0 {
		logger.Info("No source files under scan root")
		s.store.ClearPackage(session.Package)
		return emptySummary(session), nil
	}

	session.setState(types.SessionScanning)
	logger.WithField("file_count", len(files)).Info("Submitting files for narrative analysis")

	tasks := make([]*scheduler.Task, 0, len(files))
	for _, file := range files {
		file := file
		task, err := s.sched.Submit(ctx, func(ctx context.Context) (any, error) {
			return s.analyzeOneNarrative(ctx, session.Root, file)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to submit analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	outcomes := make([]*types.NarrativeOutcome, 0, len(tasks))
	for i, task := range tasks {
		result, err := task.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("scan of %s interrupted: %w", session.Package, err)
			}
			logger.WithError(err).WithField("file", files[i]).Warn("Narrative analysis errored")
			outcomes = append(outcomes, &types.NarrativeOutcome{
				File:    files[i],
				Errored: true,
				Summary: err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, result.(*types.NarrativeOutcome))
	}

	session.setState(types.SessionAggregating)

	// The narrative method produces no code locations, so any findings
	// left over from a previous structured scan of this package are stale.
	// Leave the store alone if a newer session took over the package.
	s.mutex.Lock()
	if s.sessions[session.Package] == session {
		s.store.ClearPackage(session.Package)
	}
	s.mutex.Unlock()

	return aggregateNarrative(session, outcomes), nil
}

// analyzeOneNarrative reads and analyzes one source file. Errors are captured
// as errored outcomes rather than propagated, so one file cannot abort the
// package scan.
func (s *Scanner) analyzeOneNarrative(ctx context.Context, root, file string) (*types.NarrativeOutcome, error) {
	if s.metrics != nil {
		s.metrics.AnalysisStarted()
		defer s.metrics.AnalysisFinished()
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
	if err != nil {
		return &types.NarrativeOutcome{File: file, Errored: true, Summary: err.Error()}, nil
	}

	// Empty or near-empty files carry no signal worth a model call
	if len(strings.TrimSpace(string(content))) < narrativeMinContent {
		return &types.NarrativeOutcome{
			File:    file,
			Skipped: true,
			Summary: "Skipped empty file",
		}, nil
	}

	outcome, err := s.narrative.AnalyzeFileNarrative(ctx, file, string(content))
	if err != nil {
		return &types.NarrativeOutcome{File: file, Errored: true, Summary: err.Error()}, nil
	}

	outcome.File = file
	return outcome, nil
}

// aggregateNarrative computes the package verdict from per-file
// classifications. A failure to analyze must never be reported as safe: if
// every analyzed file errored the verdict is API_ERROR, not BENIGN.
func aggregateNarrative(session *Session, outcomes []*types.NarrativeOutcome) *types.ScanSummary {
	var malicious, errored []*types.NarrativeOutcome
	analyzed := 0

	for _, outcome := range outcomes {
		if outcome.Skipped {
			continue
		}
		analyzed++
		switch {
		case outcome.Errored:
			errored = append(errored, outcome)
		case outcome.Malicious:
			malicious = append(malicious, outcome)
		}
	}

	summary := &types.ScanSummary{
		Package:      session.Package,
		Method:       session.Method,
		FilesScanned: analyzed,
	}

	if analyzed > 0 && len(errored) == analyzed {
		summary.Verdict = types.VerdictAPIError
		// The per-file summaries carry the specific remediation
		summary.Narrative = fmt.Sprintf(
			"Analysis of package '%s' failed for all %d file(s): %s",
			session.Package, analyzed, errored[0].Summary,
		)
		return summary
	}

	if len(malicious) > 0 {
		summary.Verdict = types.VerdictMalicious
		summary.TotalIssues = len(malicious)
		summary.Narrative = buildMaliciousNarrative(session.Package, malicious, analyzed)
		return summary
	}

	summary.Verdict = types.VerdictBenign
	summary.Narrative = fmt.Sprintf(
		"Package '%s' appears safe. Analyzed %d source file(s) with no malicious indicators detected.",
		session.Package, analyzed,
	)
	if len(errored) > 0 {
		summary.Narrative += fmt.Sprintf(
			" Note: %d file(s) could not be analyzed due to errors.", len(errored),
		)
	}
	return summary
}

func buildMaliciousNarrative(pkg string, malicious []*types.NarrativeOutcome, analyzed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package '%s' contains malicious indicators in %d out of %d analyzed file(s).",
		pkg, len(malicious), analyzed)

	seen := make(map[string]bool)
	var indicators []string
	for _, outcome := range malicious {
		fmt.Fprintf(&b, "\n%s: %s", outcome.File, outcome.Summary)
		for _, indicator := range outcome.Indicators {
			if !seen[indicator] {
				seen[indicator] = true
				indicators = append(indicators, indicator)
			}
		}
	}

	if len(indicators) > 0 {
		fmt.Fprintf(&b, "\nKey indicators: %s", strings.Join(indicators, "; "))
	}
	return b.String()
}
