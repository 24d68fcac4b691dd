// ABOUTME: Mock detection backends for local testing without external API calls.
// ABOUTME: Flags files deterministically based on well-known suspicious keywords.

package mock

import (
	"context"
	"regexp"
	"strings"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// keyword rules approximating what the real engines detect, enough for mock
// mode to produce plausible findings
var keywordRules = []struct {
	needle   string
	ruleID   string
	message  string
	severity types.Severity
}{
	{"eval(", "EVADE-001", "Dynamic code execution via eval detected.", types.SeverityCritical},
	{"exec(", "EVADE-002", "Dynamic code execution via exec detected.", types.SeverityCritical},
	{"os.system", "EXEC-001", "Shell command execution detected.", types.SeverityHigh},
	{"subprocess.", "EXEC-002", "Subprocess invocation detected.", types.SeverityHigh},
	{"base64.b64decode", "EVADE-004", "Base64 decoding detected. Possible payload obfuscation.", types.SeverityWarning},
}

var ipv4Pattern = regexp.MustCompile(`(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`)

// StructuredBackend is a keyword-driven stand-in for the rule engines
type StructuredBackend struct {
	logger *logrus.Logger
}

// NewStructuredBackend creates a mock structured analyzer
func NewStructuredBackend(logger *logrus.Logger) *StructuredBackend {
	return &StructuredBackend{logger: logger}
}

// Name returns the analyzer name
func (m *StructuredBackend) Name() string {
	return "mock-structured"
}

// AnalyzeFile scans content line by line for the mock keyword rules
func (m *StructuredBackend) AnalyzeFile(ctx context.Context, path, content string) (*types.FileOutcome, error) {
	var findings []types.Finding

	for i, line := range strings.Split(content, "\n") {
		for _, rule := range keywordRules {
			col := strings.Index(line, rule.needle)
			if col < 0 {
				continue
			}
			findings = append(findings, types.Finding{
				Line:        i + 1,
				ColumnStart: col,
				ColumnEnd:   col + len(rule.needle),
				Message:     rule.message,
				Severity:    rule.severity,
				RuleID:      rule.ruleID,
			})
		}
		if loc := ipv4Pattern.FindStringIndex(line); loc != nil {
			findings = append(findings, types.Finding{
				Line:        i + 1,
				ColumnStart: loc[0],
				ColumnEnd:   loc[1],
				Message:     "IPv4 Address detected. Suspicious if hardcoded.",
				Severity:    types.SeverityInfo,
				RuleID:      "NET-003",
			})
		}
	}

	outcome := &types.FileOutcome{
		File:     path,
		Status:   types.FileStatusSafe,
		Findings: findings,
		Stats:    map[types.Severity]int{},
	}
	for _, f := range findings {
		outcome.Stats[f.Severity]++
		if f.Severity == types.SeverityCritical || f.Severity == types.SeverityHigh {
			outcome.Status = types.FileStatusDanger
		}
	}

	m.logger.WithFields(logrus.Fields{
		"file":     path,
		"findings": len(findings),
	}).Debug("Mock structured analysis completed")

	return outcome, nil
}

// NarrativeBackend is a keyword-driven stand-in for the LLM analyzer
type NarrativeBackend struct {
	logger *logrus.Logger
}

// NewNarrativeBackend creates a mock narrative analyzer
func NewNarrativeBackend(logger *logrus.Logger) *NarrativeBackend {
	return &NarrativeBackend{logger: logger}
}

// Name returns the analyzer name
func (m *NarrativeBackend) Name() string {
	return "mock-narrative"
}

// AnalyzeFileNarrative flags files containing any high-severity mock keyword
func (m *NarrativeBackend) AnalyzeFileNarrative(ctx context.Context, path, content string) (*types.NarrativeOutcome, error) {
	outcome := &types.NarrativeOutcome{
		File:       path,
		Confidence: "LOW",
		Summary:    "No malicious indicators detected by mock analysis.",
	}

	for _, rule := range keywordRules {
		if rule.severity != types.SeverityCritical && rule.severity != types.SeverityHigh {
			continue
		}
		if strings.Contains(content, rule.needle) {
			outcome.Malicious = true
			outcome.Confidence = "HIGH"
			outcome.Indicators = append(outcome.Indicators, rule.message)
		}
	}
	if outcome.Malicious {
		outcome.Summary = "Mock analysis flagged suspicious execution or evasion primitives."
	}

	return outcome, nil
}

// SuggestAlternatives returns canned suggestions
func (m *NarrativeBackend) SuggestAlternatives(ctx context.Context, packageName string) ([]types.Alternative, error) {
	return []types.Alternative{
		{Name: "requests", Reason: "Well-maintained HTTP client, a common target of typosquatting."},
		{Name: "httpx", Reason: "Modern alternative with async support."},
		{Name: "urllib3", Reason: "Low-level HTTP library with a strong security record."},
	}, nil
}
