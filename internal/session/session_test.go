package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/agentspec"
)

func TestRecordRestartIncrementsAndResetsChildPID(t *testing.T) {
	s := New(100, agentspec.AgentSpec{Name: "claude"}, nil, "/tmp/sig", "/tmp/overlay", "", "/tmp/state")
	s.SetChildPID(200)
	require.Equal(t, 200, s.Snap().ChildPID)

	n := s.RecordRestart()
	require.Equal(t, 1, n)
	require.Equal(t, 0, s.Snap().ChildPID)

	n = s.RecordRestart()
	require.Equal(t, 2, n)
}

func TestTouchNeverMovesActivityBackwards(t *testing.T) {
	s := New(100, agentspec.AgentSpec{Name: "claude"}, nil, "/tmp/sig", "/tmp/overlay", "", "/tmp/state")
	first := s.Snap().LastActivityAt
	s.Touch()
	require.False(t, s.Snap().LastActivityAt.Before(first))
}
