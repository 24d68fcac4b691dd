// ABOUTME: Common types shared across the malscan system.
// ABOUTME: Defines data structures for findings, file outcomes, and scan verdicts.

package types

// Severity classifies how dangerous a single finding is
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Rank returns an integer rank for ordering (CRITICAL=0 sorts first)
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 3
	default:
		return 99
	}
}

// Finding represents one located issue reported by a detection engine.
// Immutable once produced.
type Finding struct {
	Line        int      `json:"line"` // 1-based
	ColumnStart int      `json:"column_start"`
	ColumnEnd   int      `json:"column_end"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	RuleID      string   `json:"rule_id"`
}

// FileStatus is the per-file analysis status
type FileStatus string

const (
	FileStatusSafe   FileStatus = "SAFE"
	FileStatusDanger FileStatus = "DANGER"
	FileStatusError  FileStatus = "ERROR"
)

// FileOutcome is the result of analyzing one file
type FileOutcome struct {
	File     string           `json:"file"` // path relative to scan root
	Status   FileStatus       `json:"status"`
	Findings []Finding        `json:"findings"`
	Stats    map[Severity]int `json:"stats"` // severity -> count
}

// CleanOutcome returns a zero-finding SAFE outcome for a file. Used when a
// single file's analysis fails and the scan must degrade rather than abort.
func CleanOutcome(file string) *FileOutcome {
	return &FileOutcome{
		File:   file,
		Status: FileStatusSafe,
		Stats:  map[Severity]int{},
	}
}

// NarrativeOutcome is the per-file result of the AI-based narrative method
type NarrativeOutcome struct {
	File       string   `json:"file"`
	Skipped    bool     `json:"skipped"`
	Errored    bool     `json:"errored"`
	Malicious  bool     `json:"is_malicious"`
	Confidence string   `json:"confidence"` // HIGH, MEDIUM, LOW
	Indicators []string `json:"indicators"`
	Summary    string   `json:"summary"`
}

// Verdict is the package-level classification
type Verdict string

const (
	VerdictMalicious      Verdict = "MALICIOUS"
	VerdictBenign         Verdict = "BENIGN"
	VerdictAPIError       Verdict = "API_ERROR"
	VerdictNotImplemented Verdict = "NOT_IMPLEMENTED"
)

// Method selects a detection method family
type Method string

const (
	MethodRuleBased    Method = "rule_based"    // structured: AST rules + regex fallback
	MethodPatternBased Method = "pattern_based" // structured: semgrep-style pattern rules
	MethodAI           Method = "ai"            // narrative: LLM-based analysis
	MethodClassifier   Method = "classifier"    // stub, always NOT_IMPLEMENTED
)

// IsStructured reports whether the method returns per-location findings
func (m Method) IsStructured() bool {
	return m == MethodRuleBased || m == MethodPatternBased
}

// RuleSummary is one row of the rule-level scan summary
type RuleSummary struct {
	RuleID   string   `json:"rule_id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// ScanSummary is the verdict envelope every scan reports, structured or narrative
type ScanSummary struct {
	Package      string           `json:"package"`
	Method       Method           `json:"method"`
	Verdict      Verdict          `json:"verdict"`
	TotalIssues  int              `json:"total_issues"`
	FilesScanned int              `json:"files_scanned"`
	Stats        map[Severity]int `json:"stats,omitempty"`     // structured only
	Rules        []RuleSummary    `json:"summary,omitempty"`   // structured only
	Narrative    string           `json:"narrative,omitempty"` // narrative only
}

// SessionState tracks a package scan session's lifecycle
type SessionState string

const (
	SessionCreated      SessionState = "CREATED"
	SessionScanning     SessionState = "SCANNING"
	SessionAggregating  SessionState = "AGGREGATING"
	SessionVerdictReady SessionState = "VERDICT_READY"
	SessionFailed       SessionState = "FAILED"
)

// Alternative is a safe replacement package suggested after a MALICIOUS verdict
type Alternative struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
