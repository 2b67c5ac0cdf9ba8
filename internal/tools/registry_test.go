package tools

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/internal/wardenerr"
	"github.com/wardenhq/warden/pkg/netevent"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	p := pool.New(4, agentspec.BuiltIn(), logging.Default(), nil)
	return New(logging.Default(), p, "warden", t.TempDir())
}

func TestWrapperPIDMissingIsToolLevelError(t *testing.T) {
	os.Unsetenv(EnvWrapperPID)
	r := newTestRegistry(t)
	_, err := r.wrapperPID()
	require.Error(t, err)
	require.True(t, wardenerr.IsToolLevel(err))
}

func TestWrapperPIDFromEnv(t *testing.T) {
	t.Setenv(EnvWrapperPID, "4242")
	r := newTestRegistry(t)
	pid, err := r.wrapperPID()
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}

func TestSignalPathUsesBrand(t *testing.T) {
	r := newTestRegistry(t)
	r.brand = "acme"
	got := r.signalPath(10)
	require.Contains(t, got, "acme-10")
}

func TestSummarizeNetmonCountsByAddr(t *testing.T) {
	sent := 100
	recv := 50
	events := []netevent.Event{
		{Event: netevent.Connect, Addr: "1.2.3.4:80"},
		{Event: netevent.Send, Bytes: &sent},
		{Event: netevent.Recv, Bytes: &recv},
		{Event: netevent.Close},
	}
	got := summarizeNetmon(events)
	require.Contains(t, got, `"total_connections":1`)
	require.Contains(t, got, `"unique_addrs":1`)
	require.Contains(t, got, `"bytes_sent":100`)
	require.Contains(t, got, `"bytes_recv":50`)
}
