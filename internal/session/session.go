// Package session defines WrapperSession, the per-invocation state exclusively
// owned by the supervisor (component G), per spec.md §3.
package session

import (
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/agentspec"
)

// Session is one supervisor invocation's state. All mutation happens
// through its methods, which take a short-held mutex — no I/O happens while
// the lock is held, per spec.md §5's discipline.
type Session struct {
	mu sync.Mutex

	WrapperPID      int
	ChildPID        int // 0 means "no child currently running"
	ChildAgent      agentspec.AgentSpec
	OriginalArgs    []string
	RestartCount    int
	StartedAt       time.Time
	LastRestartAt   time.Time
	LastActivityAt  time.Time
	SignalPath      string
	OverlayPath     string
	NetmonLogPath   string // empty means netmon disabled
	SharedStatePath string
}

// New creates a Session for a fresh wrapper invocation.
func New(wrapperPID int, agent agentspec.AgentSpec, args []string, signalPath, overlayPath, netmonLogPath, sharedStatePath string) *Session {
	now := time.Now()
	return &Session{
		WrapperPID:      wrapperPID,
		ChildAgent:      agent,
		OriginalArgs:    args,
		StartedAt:       now,
		LastActivityAt:  now,
		SignalPath:      signalPath,
		OverlayPath:     overlayPath,
		NetmonLogPath:   netmonLogPath,
		SharedStatePath: sharedStatePath,
	}
}

// SetChildPID records the pid of a newly spawned child.
func (s *Session) SetChildPID(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChildPID = pid
}

// RecordRestart bumps the restart counter and resets per-child state. Per
// spec.md §8 invariant 3, RestartCount only ever increases.
func (s *Session) RecordRestart() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RestartCount++
	s.ChildPID = 0
	now := time.Now()
	s.LastRestartAt = now
	s.LastActivityAt = now
	return s.RestartCount
}

// Touch records activity (stdout/stderr bytes, watchdog ping, tool call).
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// Snapshot is a point-in-time, lock-free copy of the session's fields for
// publishing to shared state or reading from MCP tool handlers.
type Snapshot struct {
	WrapperPID     int
	ChildPID       int
	AgentName      string
	RestartCount   int
	StartedAt      time.Time
	LastRestartAt  time.Time
	LastActivityAt time.Time
}

// Snap returns a Snapshot of the current state.
func (s *Session) Snap() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		WrapperPID:     s.WrapperPID,
		ChildPID:       s.ChildPID,
		AgentName:      s.ChildAgent.Name,
		RestartCount:   s.RestartCount,
		StartedAt:      s.StartedAt,
		LastRestartAt:  s.LastRestartAt,
		LastActivityAt: s.LastActivityAt,
	}
}
