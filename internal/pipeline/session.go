// ABOUTME: Package scan session lifecycle tracking.
// ABOUTME: One session per package scan attempt, from creation through verdict or failure.

package pipeline

import (
	"time"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Session is one scan attempt for one package name. It owns its scratch
// directory (if any) until cleanup.
type Session struct {
	Package    string
	Method     types.Method
	Root       string
	ScratchDir string // empty for caller-supplied roots
	State      types.SessionState
	CreatedAt  time.Time

	logger *logrus.Logger
}

func newSession(pkg string, method types.Method, root string, logger *logrus.Logger) *Session {
	return &Session{
		Package:   pkg,
		Method:    method,
		Root:      root,
		State:     types.SessionCreated,
		CreatedAt: time.Now(),
		logger:    logger,
	}
}

func (s *Session) setState(state types.SessionState) {
	s.logger.WithFields(logrus.Fields{
		"package": s.Package,
		"from":    s.State,
		"to":      state,
	}).Debug("Session state transition")
	s.State = state
}
