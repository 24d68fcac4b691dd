// ABOUTME: Manifest annotator that appends verdict markers to dependency lines.
// ABOUTME: Scans each unannotated requirement headlessly and records SAFE or DANGER.

package manifest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	markerSafe   = "\t# MalPack: SAFE"
	markerDanger = "\t# MalPack: DANGER"
)

// nameToken matches the leading dependency name of a requirements line,
// stopping before version specifiers, extras, or trailing comments.
var nameToken = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)

// Document is line-oriented access to a manifest. ReplaceLine performs a
// compare-and-swap: it must replace line i only if its current text still
// equals old, reporting whether the edit happened. Editor-backed
// implementations enforce this against concurrent user edits.
type Document interface {
	LineCount() int
	Line(i int) string
	ReplaceLine(i int, old, new string) bool
}

// TextDocument is an in-memory Document backed by a slice of lines.
type TextDocument struct {
	lines []string
}

// NewTextDocument splits text into lines, preserving empty lines.
func NewTextDocument(text string) *TextDocument {
	return &TextDocument{lines: strings.Split(text, "\n")}
}

func (d *TextDocument) LineCount() int {
	return len(d.lines)
}

func (d *TextDocument) Line(i int) string {
	return d.lines[i]
}

func (d *TextDocument) ReplaceLine(i int, old, new string) bool {
	if d.lines[i] != old {
		return false
	}
	d.lines[i] = new
	return true
}

// Text reassembles the document.
func (d *TextDocument) Text() string {
	return strings.Join(d.lines, "\n")
}

// HeadlessScanner runs a package scan with no presentation-layer interaction
type HeadlessScanner interface {
	HeadlessScan(ctx context.Context, pkg string, method types.Method) (bool, error)
}

// LineVerdict records the annotation applied to one manifest line
type LineVerdict struct {
	Index   int           `json:"index"`
	Name    string        `json:"name"`
	Verdict types.Verdict `json:"verdict"`
}

// Annotator walks manifest documents and marks each dependency line with a
// scan verdict. Lines already carrying a marker are left alone, so repeated
// passes over the same document are no-ops.
type Annotator struct {
	scanner HeadlessScanner
	method  types.Method
	logger  *logrus.Logger
}

func NewAnnotator(scanner HeadlessScanner, method types.Method, logger *logrus.Logger) *Annotator {
	return &Annotator{
		scanner: scanner,
		method:  method,
		logger:  logger,
	}
}

// Annotate scans every candidate line of doc and appends a verdict marker.
// A line whose scan fails is skipped and left unmarked so a later pass can
// retry it. The same applies when the line's text changed while its scan was
// in flight.
func (a *Annotator) Annotate(ctx context.Context, doc Document) ([]LineVerdict, error) {
	log := a.logger.WithField("component", "manifest")

	var verdicts []LineVerdict
	for i := 0; i < doc.LineCount(); i++ {
		original := doc.Line(i)
		name, ok := candidateName(original)
		if !ok {
			continue
		}

		malicious, err := a.scanner.HeadlessScan(ctx, name, a.method)
		if err != nil {
			log.WithFields(logrus.Fields{
				"line":    i,
				"package": name,
			}).WithError(err).Warn("Manifest line scan failed, leaving unannotated")
			continue
		}

		verdict := types.VerdictBenign
		marker := markerSafe
		if malicious {
			verdict = types.VerdictMalicious
			marker = markerDanger
		}

		if !doc.ReplaceLine(i, original, original+marker) {
			log.WithFields(logrus.Fields{
				"line":    i,
				"package": name,
			}).Warn("Manifest line changed during scan, skipping stale annotation")
			continue
		}

		verdicts = append(verdicts, LineVerdict{Index: i, Name: name, Verdict: verdict})
	}

	if err := ctx.Err(); err != nil {
		return verdicts, fmt.Errorf("manifest annotation interrupted: %w", err)
	}
	return verdicts, nil
}

// candidateName extracts the dependency name from a manifest line, reporting
// false for blanks, comments, already-annotated lines, and lines that do not
// start with a valid name token.
func candidateName(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	if strings.Contains(line, "# MalPack:") {
		return "", false
	}
	name := nameToken.FindString(trimmed)
	if name == "" {
		return "", false
	}
	return name, true
}
