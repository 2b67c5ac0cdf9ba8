package ipc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/pkg/signalfile"
)

func TestPollerDispatchesAndConsumesExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden-999")

	var mu sync.Mutex
	var received []signalfile.Request

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(path, logging.Default(), func(r signalfile.Request) {
		mu.Lock()
		received = append(received, r)
		mu.Unlock()
	})
	go p.Run(ctx)

	require.NoError(t, signalfile.Write(path, signalfile.Request{Kind: signalfile.Restart, Reason: "test"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Further poll periods must not dispatch the same request again.
	time.Sleep(3 * PollInterval)
	require.NoFileExists(t, path)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, signalfile.Restart, received[0].Kind)
}
