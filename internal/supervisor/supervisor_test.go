package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AgentName:       "claude",
		AgentArgs:       []string{"--some-arg"},
		WatchdogTimeout: time.Minute,
		NoWatchdog:      true,
		NoInjectMCP:     true,
		IPCDir:          t.TempDir(),
	}
}

func TestComposeRestartArgvWithContinueFlagAndPrompt(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("claude")
	s := New(testConfig(t), spec, specs, logging.Default(), Options{})

	argv := s.composeRestartArgv("go on")
	require.Equal(t, []string{"--continue", "go on", "--some-arg"}, argv)
}

func TestComposeRestartArgvWithoutPrompt(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("claude")
	s := New(testConfig(t), spec, specs, logging.Default(), Options{})

	argv := s.composeRestartArgv("")
	require.Equal(t, []string{"--continue", "--some-arg"}, argv)
}

func TestComposeRestartArgvUnsupportedContinueIsUnchanged(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("cursor")
	cfg := testConfig(t)
	cfg.AgentName = "cursor"
	s := New(cfg, spec, specs, logging.Default(), Options{})

	argv := s.composeRestartArgv("go on")
	require.Equal(t, s.sess.OriginalArgs, argv)
}

func TestSpawnAndMainLoopReturnsChildExitCode(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("claude")
	spec.Executable = "sh"
	cfg := testConfig(t)
	cfg.AgentArgs = []string{"-c", "exit 7"}

	s := New(cfg, spec, specs, logging.Default(), Options{})
	code, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, code)
}

func TestRestartKeepsSupervisingRespawnedChild(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("claude")
	spec.Executable = "sh"
	spec.SupportsContinue = false // keep composeRestartArgv's output == OriginalArgs
	cfg := testConfig(t)
	cfg.AgentArgs = []string{"-c", "sleep 5"}

	s := New(cfg, spec, specs, logging.Default(), Options{})

	runDone := make(chan struct{})
	var code int
	var runErr error
	go func() {
		code, runErr = s.Run(context.Background())
		close(runDone)
	}()

	// Wait for the first generation to actually be running before killing it.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cmd != nil && s.cmd.Process != nil
	}, time.Second, 10*time.Millisecond)

	s.requestRestart("test", "")

	require.Eventually(t, func() bool {
		return s.sess.Snap().RestartCount == 1
	}, time.Second, 10*time.Millisecond)

	select {
	case <-runDone:
		t.Fatalf("Run returned after restart (code=%d err=%v); wrapper should keep supervising the respawned child", code, runErr)
	case <-time.After(200 * time.Millisecond):
	}

	// Let the respawned "sleep 5" run to completion is unnecessary; killing
	// it directly exercises that its exit (not the original's) is terminal.
	s.mu.Lock()
	newCmd := s.cmd
	s.mu.Unlock()
	require.NotNil(t, newCmd)
	require.NoError(t, newCmd.Process.Kill())

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the respawned child exited")
	}
	require.Equal(t, 1, s.sess.Snap().RestartCount)
}

func TestCleanupRemovesSessionFiles(t *testing.T) {
	specs := agentspec.BuiltIn()
	spec, _ := specs.Lookup("claude")
	cfg := testConfig(t)
	s := New(cfg, spec, specs, logging.Default(), Options{})

	overlay := filepath.Join(cfg.IPCDir, "leftover")
	s.sess.OverlayPath = overlay
	require.NoError(t, os.WriteFile(overlay, []byte("{}"), 0o644))

	s.cleanup()
	require.NoFileExists(t, overlay)
}
