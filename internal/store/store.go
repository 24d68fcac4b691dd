// ABOUTME: In-memory findings index keyed by package and file.
// ABOUTME: Single source of truth read by navigation and the presentation layer.

package store

import (
	"sort"
	"sync"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// FindingsStore maps package -> file -> ordered findings. It is mutated only
// by the scan pipeline and read by everything downstream. Files with zero
// findings are never present.
type FindingsStore struct {
	mutex    sync.RWMutex
	packages map[string]map[string][]types.Finding
	logger   *logrus.Logger
}

// NewFindingsStore creates an empty findings index
func NewFindingsStore(logger *logrus.Logger) *FindingsStore {
	return &FindingsStore{
		packages: make(map[string]map[string][]types.Finding),
		logger:   logger,
	}
}

// RegisterFile inserts or replaces the finding sequence for a file, sorted by
// (line, column start). Registering an empty sequence removes the file entry.
// Each call is independent and idempotent, so out-of-order completion of scan
// tasks is safe.
func (s *FindingsStore) RegisterFile(pkg, file string, findings []types.Finding) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(findings) == 0 {
		if files, ok := s.packages[pkg]; ok {
			delete(files, file)
			if len(files) == 0 {
				delete(s.packages, pkg)
			}
		}
		return
	}

	sorted := make([]types.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].ColumnStart < sorted[j].ColumnStart
	})

	files, ok := s.packages[pkg]
	if !ok {
		files = make(map[string][]types.Finding)
		s.packages[pkg] = files
	}
	files[file] = sorted

	s.logger.WithFields(logrus.Fields{
		"package":  pkg,
		"file":     file,
		"findings": len(sorted),
	}).Debug("Registered file findings")
}

// ClearPackage removes every file entry for a package. Clearing a package
// that was never registered is a no-op.
func (s *FindingsStore) ClearPackage(pkg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.packages[pkg]; !ok {
		return
	}
	delete(s.packages, pkg)

	s.logger.WithField("package", pkg).Debug("Cleared package findings")
}

// Files returns the file identifiers holding findings for a package, sorted
// lexicographically. This is the canonical cross-file ordering.
func (s *FindingsStore) Files(pkg string) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files := make([]string, 0, len(s.packages[pkg]))
	for file := range s.packages[pkg] {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// Findings returns the sorted finding sequence for a file, optionally
// restricted to one rule id. An empty ruleID means no filter. The returned
// slice is a copy.
func (s *FindingsStore) Findings(pkg, file, ruleID string) []types.Finding {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stored := s.packages[pkg][file]
	result := make([]types.Finding, 0, len(stored))
	for _, f := range stored {
		if ruleID != "" && f.RuleID != ruleID {
			continue
		}
		result = append(result, f)
	}
	return result
}

// Stats reports the number of indexed packages and files
func (s *FindingsStore) Stats() (packages int, files int) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	packages = len(s.packages)
	for _, f := range s.packages {
		files += len(f)
	}
	return packages, files
}
