// ABOUTME: Scan pipeline orchestrating per-file analysis through the bounded scheduler.
// ABOUTME: Aggregates file outcomes into package verdicts and populates the findings store.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/malpack/malscan/internal/cache"
	"github.com/malpack/malscan/internal/metrics"
	"github.com/malpack/malscan/internal/registry"
	"github.com/malpack/malscan/internal/scheduler"
	"github.com/malpack/malscan/internal/store"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// At most this many per-file analysis calls are in flight per process
const analysisLimit = 10

// Minimum trimmed content length the narrative method considers analyzable
const narrativeMinContent = 10

// StructuredAnalyzer is a detection engine returning per-location findings
type StructuredAnalyzer interface {
	Name() string
	AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error)
}

// NarrativeAnalyzer is a detection engine returning a per-file classification
// with no code locations
type NarrativeAnalyzer interface {
	Name() string
	AnalyzeFileNarrative(ctx context.Context, path, content string) (*types.NarrativeOutcome, error)
	SuggestAlternatives(ctx context.Context, packageName string) ([]types.Alternative, error)
}

// Scanner drives package scans: file discovery, bounded concurrent analysis,
// aggregation, and findings registration.
type Scanner struct {
	store      *store.FindingsStore
	sched      *scheduler.Scheduler
	provider   registry.ArchiveProvider
	structured map[types.Method]StructuredAnalyzer
	narrative  NarrativeAnalyzer
	verdicts   *cache.VerdictCache
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	mutex    sync.Mutex
	sessions map[string]*Session
}

// NewScanner creates a scan pipeline. The provider may be nil when only
// caller-supplied scan roots are used.
func NewScanner(
	findings *store.FindingsStore,
	provider registry.ArchiveProvider,
	structured map[types.Method]StructuredAnalyzer,
	narrative NarrativeAnalyzer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Scanner {
	return &Scanner{
		store:      findings,
		sched:      scheduler.New(analysisLimit, logger),
		provider:   provider,
		structured: structured,
		narrative:  narrative,
		verdicts:   cache.NewVerdictCache(logger),
		metrics:    m,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Close stops the underlying scheduler after in-flight tasks settle
func (s *Scanner) Close() {
	s.sched.Close()
}

// Scan analyzes an already-materialized source tree and returns the verdict
// envelope. Re-scanning a package clears its previous findings before the new
// ones are registered.
func (s *Scanner) Scan(ctx context.Context, pkg string, method types.Method, root string) (*types.ScanSummary, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"operation": "scan",
		"package":   pkg,
		"method":    method,
	})

	session := newSession(pkg, method, root, s.logger)
	s.trackSession(session)

	startTime := time.Now()
	summary, err := s.runScan(ctx, session)
	if err != nil {
		// FAILED marks pre-scan rejection only. A scan interrupted after
		// file tasks were submitted keeps its SCANNING state; the tasks
		// settle on their own and Cleanup retires the session.
		if session.State == types.SessionCreated {
			session.setState(types.SessionFailed)
		}
		return nil, err
	}
	session.setState(types.SessionVerdictReady)

	duration := time.Since(startTime)
	if s.metrics != nil {
		s.metrics.ObserveScan(summary, duration)
	}

	logger.WithFields(logrus.Fields{
		"verdict":       summary.Verdict,
		"total_issues":  summary.TotalIssues,
		"files_scanned": summary.FilesScanned,
		"duration":      duration,
	}).Info("Scan completed")

	return summary, nil
}

func (s *Scanner) runScan(ctx context.Context, session *Session) (*types.ScanSummary, error) {
	switch {
	case session.Method.IsStructured():
		return s.scanStructured(ctx, session)
	case session.Method == types.MethodAI:
		return s.scanNarrative(ctx, session)
	case session.Method == types.MethodClassifier:
		return &types.ScanSummary{
			Package: session.Package,
			Method:  session.Method,
			Verdict: types.VerdictNotImplemented,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported detection method: %s", session.Method)
	}
}

// ScanRemote fetches a package by name into a session-owned scratch directory
// and scans it. The scratch directory and registered findings live until
// Cleanup is called for the package, so the user can browse results.
func (s *Scanner) ScanRemote(ctx context.Context, pkg string, method types.Method) (*types.ScanSummary, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no archive provider configured")
	}

	scratch, err := os.MkdirTemp("", "malscan-"+sanitizeName(pkg)+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	root, err := s.provider.FetchAndExtract(ctx, pkg, scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	summary, err := s.Scan(ctx, pkg, method, root)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	s.mutex.Lock()
	if session, ok := s.sessions[pkg]; ok {
		session.ScratchDir = scratch
	}
	s.mutex.Unlock()

	return summary, nil
}

// HeadlessScan fetches and scans a package with no presentation-layer
// interaction, reporting only whether it is malicious. The scratch directory
// is torn down on every exit path and the findings store entry does not
// outlive the call.
func (s *Scanner) HeadlessScan(ctx context.Context, pkg string, method types.Method) (bool, error) {
	if cached := s.verdicts.Get(pkg); cached != "" {
		return cached == types.VerdictMalicious, nil
	}
	if s.provider == nil {
		return false, fmt.Errorf("no archive provider configured")
	}

	scratch, err := os.MkdirTemp("", "malscan-headless-"+sanitizeName(pkg)+"-*")
	if err != nil {
		return false, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)
	defer s.Cleanup(pkg)

	root, err := s.provider.FetchAndExtract(ctx, pkg, scratch)
	if err != nil {
		return false, err
	}

	summary, err := s.Scan(ctx, pkg, method, root)
	if err != nil {
		return false, err
	}
	if summary.Verdict == types.VerdictAPIError {
		return false, fmt.Errorf("analysis backend unavailable: %s", summary.Narrative)
	}

	s.verdicts.Set(pkg, summary.Verdict)
	return summary.Verdict == types.VerdictMalicious, nil
}

// Cleanup tears down a package's session: findings store entries are removed
// and the scratch directory, if any, is deleted. Safe to call for unknown
// packages; in-flight tasks for the abandoned session settle harmlessly.
func (s *Scanner) Cleanup(pkg string) {
	s.store.ClearPackage(pkg)

	s.mutex.Lock()
	session, ok := s.sessions[pkg]
	if ok {
		delete(s.sessions, pkg)
	}
	s.mutex.Unlock()

	if ok && session.ScratchDir != "" {
		if err := os.RemoveAll(session.ScratchDir); err != nil {
			s.logger.WithError(err).WithField("package", pkg).Warn("Failed to remove scratch dir")
		}
	}
}

// SuggestAlternatives proxies to the narrative analyzer
func (s *Scanner) SuggestAlternatives(ctx context.Context, pkg string) ([]types.Alternative, error) {
	if s.narrative == nil {
		return nil, fmt.Errorf("no narrative analyzer configured")
	}
	return s.narrative.SuggestAlternatives(ctx, pkg)
}

func (s *Scanner) trackSession(session *Session) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// A new scan for the same package replaces the previous session. The
	// old session's scratch dir goes with it; its store entries are
	// replaced during registration.
	if prev, ok := s.sessions[session.Package]; ok && prev.ScratchDir != "" && prev.ScratchDir != session.ScratchDir {
		os.RemoveAll(prev.ScratchDir)
	}
	s.sessions[session.Package] = session
}

func sanitizeName(pkg string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, pkg)
}

func (s *Scanner) scanStructured(ctx context.Context, session *Session) (*types.ScanSummary, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"operation": "scan_structured",
		"package":   session.Package,
	})

	analyzer, ok := s.structured[session.Method]
	if !ok {
		return nil, fmt.Errorf("no analyzer configured for method %s", session.Method)
	}

	files, err := discoverFiles(session.Root, structuredExtensions)
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", session.Package, err)
	}

	// Zero eligible files is a completed benign scan, not an error:
	// absence of analyzable files is not evidence of maliciousness
	if len(files) == 0 {
		logger.Info("No eligible files under scan root")
		s.store.ClearPackage(session.Package)
		return emptySummary(session), nil
	}

	session.setState(types.SessionScanning)
	logger.WithField("file_count", len(files)).Info("Submitting files for analysis")

	tasks := make([]*scheduler.Task, 0, len(files))
	for _, file := range files {
		file := file
		task, err := s.sched.Submit(ctx, func(ctx context.Context) (any, error) {
			return s.analyzeOne(ctx, analyzer, session.Root, file)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to submit analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	// Join barrier: aggregation waits for every submitted task. A single
	// file's failure has already been degraded to a clean outcome.
	outcomes := make([]*types.FileOutcome, 0, len(tasks))
	for i, task := range tasks {
		result, err := task.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("scan of %s interrupted: %w", session.Package, err)
			}
			logger.WithError(err).WithField("file", files[i]).Warn("File analysis degraded to clean outcome")
			outcomes = append(outcomes, types.CleanOutcome(files[i]))
			continue
		}
		outcomes = append(outcomes, result.(*types.FileOutcome))
	}

	session.setState(types.SessionAggregating)

	// Replace any previous scan's findings before registering new ones. A
	// newer scan of the same package may have finished while this one was
	// parked in analysis; its registered findings are authoritative then,
	// and this session's late results are reported but never registered.
	s.mutex.Lock()
	if s.sessions[session.Package] == session {
		s.store.ClearPackage(session.Package)
		for _, outcome := range outcomes {
			if len(outcome.Findings) > 0 {
				s.store.RegisterFile(session.Package, outcome.File, outcome.Findings)
			}
		}
	} else {
		logger.Info("Scan superseded by a newer session, discarding findings")
	}
	s.mutex.Unlock()

	return aggregateStructured(session, outcomes), nil
}

// analyzeOne reads and analyzes one file. Any failure degrades to a
// SAFE/zero-finding outcome so a single file can never abort the package scan.
func (s *Scanner) analyzeOne(ctx context.Context, analyzer StructuredAnalyzer, root, file string) (*types.FileOutcome, error) {
	if s.metrics != nil {
		s.metrics.AnalysisStarted()
		defer s.metrics.AnalysisFinished()
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
	if err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("Failed to read file, treating as clean")
		return types.CleanOutcome(file), nil
	}

	outcome, err := analyzer.AnalyzeFile(ctx, file, string(content))
	if err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("File analysis failed, treating as clean")
		return types.CleanOutcome(file), nil
	}

	outcome.File = file
	return outcome, nil
}

func emptySummary(session *Session) *types.ScanSummary {
	return &types.ScanSummary{
		Package: session.Package,
		Method:  session.Method,
		Verdict: types.VerdictBenign,
		Stats:   map[types.Severity]int{},
	}
}

// aggregateStructured computes the verdict envelope from all file outcomes,
// clean ones included
func aggregateStructured(session *Session, outcomes []*types.FileOutcome) *types.ScanSummary {
	stats := map[types.Severity]int{}
	ruleGroups := make(map[string]*types.RuleSummary)
	totalIssues := 0

	for _, outcome := range outcomes {
		for _, f := range outcome.Findings {
			totalIssues++
			stats[f.Severity]++

			group, ok := ruleGroups[f.RuleID]
			if !ok {
				group = &types.RuleSummary{
					RuleID:   f.RuleID,
					Message:  f.Message,
					Severity: f.Severity,
				}
				ruleGroups[f.RuleID] = group
			}
			group.Count++
		}
	}

	rules := make([]types.RuleSummary, 0, len(ruleGroups))
	for _, group := range ruleGroups {
		rules = append(rules, *group)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Severity.Rank() != rules[j].Severity.Rank() {
			return rules[i].Severity.Rank() < rules[j].Severity.Rank()
		}
		if rules[i].Count != rules[j].Count {
			return rules[i].Count > rules[j].Count
		}
		return rules[i].RuleID < rules[j].RuleID
	})

	verdict := types.VerdictBenign
	if totalIssues > 0 {
		verdict = types.VerdictMalicious
	}

	return &types.ScanSummary{
		Package:      session.Package,
		Method:       session.Method,
		Verdict:      verdict,
		TotalIssues:  totalIssues,
		FilesScanned: len(outcomes),
		Stats:        stats,
		Rules:        rules,
	}
}
