package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/logging"
)

func TestFileLockProtocol(t *testing.T) {
	p := New(4, agentspec.Table{}, logging.Default(), nil)
	_ = p

	require.NoError(t, p.AcquireLock("/a.txt", Write, "agent-1"))
	err := p.AcquireLock("/a.txt", Read, "agent-2")
	require.Error(t, err)

	// Same holder re-acquiring is fine (idempotent / upgrade).
	require.NoError(t, p.AcquireLock("/a.txt", Write, "agent-1"))

	p.ReleaseLock("/a.txt", "agent-1")
	require.NoError(t, p.AcquireLock("/a.txt", Read, "agent-2"))
}

func TestReadLocksAreShared(t *testing.T) {
	p := New(4, agentspec.Table{}, logging.Default(), nil)

	require.NoError(t, p.AcquireLock("/c.txt", Read, "agent-1"))
	require.NoError(t, p.AcquireLock("/c.txt", Read, "agent-2"))
	require.NoError(t, p.AcquireLock("/c.txt", Read, "agent-3"))

	locks := p.Locks()
	require.Len(t, locks, 3)

	// A Write request while other readers are present must fail.
	require.Error(t, p.AcquireLock("/c.txt", Write, "agent-4"))

	p.ReleaseLock("/c.txt", "agent-1")
	p.ReleaseLock("/c.txt", "agent-2")
	require.Error(t, p.AcquireLock("/c.txt", Write, "agent-4")) // agent-3 still holds Read

	p.ReleaseLock("/c.txt", "agent-3")
	require.NoError(t, p.AcquireLock("/c.txt", Write, "agent-4"))
}

func TestReadUpgradeToWriteFailsWhenOtherReadersPresent(t *testing.T) {
	p := New(4, agentspec.Table{}, logging.Default(), nil)
	require.NoError(t, p.AcquireLock("/d.txt", Read, "agent-1"))
	require.NoError(t, p.AcquireLock("/d.txt", Read, "agent-2"))

	require.Error(t, p.AcquireLock("/d.txt", Write, "agent-1"))
}

func TestReadUpgradeToWriteWhenSoleHolder(t *testing.T) {
	p := New(4, agentspec.Table{}, logging.Default(), nil)
	require.NoError(t, p.AcquireLock("/b.txt", Read, "agent-1"))
	require.NoError(t, p.AcquireLock("/b.txt", Write, "agent-1"))

	locks := p.Locks()
	require.Len(t, locks, 1)
	require.Equal(t, Write, locks[0].Mode)
}

func TestSpawnAcquiresAndReleasesWorkingDirectoryLock(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
agents:
  - name: claude
    executable: sh
    auto_permission_flags: ["-c", "sleep 2"]
`), 0o644))
	table, err := agentspec.LoadFile(yamlPath)
	require.NoError(t, err)

	p := New(4, table, logging.Default(), nil)
	dir := t.TempDir()

	id, err := p.Spawn(context.Background(), "claude", "first task", dir, 0)
	require.NoError(t, err)

	locks := p.Locks()
	require.Len(t, locks, 1)
	require.Equal(t, dir, locks[0].Path)
	require.Equal(t, Write, locks[0].Mode)
	require.Equal(t, id, locks[0].HolderID)

	// A second agent claiming the same working directory must be rejected
	// immediately rather than queued (spec.md §3's "no blocking" rule).
	_, err = p.Spawn(context.Background(), "claude", "second task, same dir", dir, 0)
	require.Error(t, err)

	require.NoError(t, p.Stop(id))
	require.Eventually(t, func() bool { return len(p.Locks()) == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestPoolFullRejectsSpawn(t *testing.T) {
	// activeCount only counts non-terminal agents, which requires a real
	// spawn to populate; exercise the capacity check directly via a
	// zero-capacity pool which must reject spawn attempts immediately.
	p := New(0, agentspec.BuiltIn(), logging.Default(), nil)
	_, err := p.Spawn(context.Background(), "claude", "do a thing", ".", 0)
	require.Error(t, err)
}
