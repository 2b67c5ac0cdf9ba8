package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordRestartAndCountToday(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.RecordRestart(ctx, 1234, 1, "watchdog-timeout", "go on", 5678))
	require.NoError(t, l.RecordRestart(ctx, 1234, 2, "manual", "", 9012))
	require.NoError(t, l.RecordRestart(ctx, 4321, 1, "manual", "", 1111))

	count, err := l.RestartCountToday(ctx, 1234)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = l.RestartCountToday(ctx, 4321)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = l.RestartCountToday(ctx, 9999)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRecordAgentRunLifecycle(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.RecordAgentRunStart(ctx, "agent-1", "write tests", "claude"))
	require.NoError(t, l.RecordAgentRunEnd(ctx, "agent-1", "Completed", "exit 0"))

	var status, exitInfo string
	row := l.db.QueryRowContext(ctx, `SELECT status, exit_info FROM agent_runs WHERE id = ?`, "agent-1")
	require.NoError(t, row.Scan(&status, &exitInfo))
	require.Equal(t, "Completed", status)
	require.Equal(t, "exit 0", exitInfo)
}
