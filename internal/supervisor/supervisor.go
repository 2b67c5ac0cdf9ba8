// Package supervisor implements the wrapper/supervisor process (component
// G): primary child lifecycle, environment preparation, overlay MCP config
// generation, the 3-2-2 signal-escalation shutdown/restart sequence, and
// the main loop that ties together the signal-file poller, the watchdog,
// and shared-state publishing, per spec.md §4.G.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/ipc"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/session"
	"github.com/wardenhq/warden/internal/sharedstate"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/internal/watchdog"
	"github.com/wardenhq/warden/internal/wardenerr"
	"github.com/wardenhq/warden/pkg/mcpconfig"
	"github.com/wardenhq/warden/pkg/netevent"
	"github.com/wardenhq/warden/pkg/signalfile"
)

// Brand is this program's name as it appears in file-path templates and
// the injected MCP server entry (spec.md §6).
const Brand = "warden"

const (
	hooksLibEnv    = "LD_PRELOAD"
	overlayTarget  = ".mcp.json"
	shutdownSIGINT = 3 * time.Second
	shutdownSIGTERM = 2 * time.Second
)

// Supervisor owns one WrapperSession end to end.
type Supervisor struct {
	cfg      config.Config
	log      *logging.Logger
	specs    agentspec.Table
	selfPath string
	hooksLib string // path to the hooks shared object; empty disables preload netmon

	sess      *session.Session
	watchdog  *watchdog.Watchdog
	publisher *sharedstate.Publisher
	auditLog  auditRecorder
	tracer    trace.Tracer
	bg        *errgroup.Group // tracks the poller + output-pump goroutines

	exitCh chan exitEvent // one event per spawned child generation, plus fatal sentinels

	mu           sync.Mutex
	cmd          *exec.Cmd
	shuttingDown bool
	ignoredExits map[int]struct{} // pids being torn down for a restart; their exit isn't terminal
}

// exitEvent reports one child generation's termination, or (with fatal set)
// a failure that leaves the supervisor with nothing left to supervise.
type exitEvent struct {
	pid   int
	err   error
	fatal bool
}

// auditRecorder is the subset of *audit.Log the supervisor needs, kept as
// an interface so tests can run without a real database.
type auditRecorder interface {
	RecordRestart(ctx context.Context, wrapperPID, restartCount int, reason, prompt string, newPID int) error
}

// Options bundles the optional collaborators a Supervisor may be built
// with.
type Options struct {
	SelfPath string
	HooksLib string
	AuditLog auditRecorder
	Tracer   trace.Tracer
}

// New creates a Supervisor for cfg. spec must be the AgentSpec matching
// cfg.AgentName.
func New(cfg config.Config, spec agentspec.AgentSpec, specs agentspec.Table, log *logging.Logger, opts Options) *Supervisor {
	log = log.WithFields(zap.String("component", "supervisor"))
	wrapperPID := os.Getpid()

	ipcDir := cfg.IPCDir
	signalPath := signalfile.Path(ipcDir, Brand, wrapperPID)
	overlayPath := filepath.Join(ipcDir, fmt.Sprintf("%s-overlay-%d.json", Brand, wrapperPID))
	sharedStatePath := filepath.Join(ipcDir, fmt.Sprintf("%s-state-%d.json", Brand, wrapperPID))

	var netmonLogPath string
	if cfg.Netmon == config.NetmonPreload {
		netmonLogPath = filepath.Join(ipcDir, fmt.Sprintf("%s-netmon-%d.jsonl", Brand, wrapperPID))
	}

	sess := session.New(wrapperPID, spec, cfg.AgentArgs, signalPath, overlayPath, netmonLogPath, sharedStatePath)

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("warden-supervisor")
	}

	wd := watchdog.New(watchdog.Config{
		Enabled:          !cfg.NoWatchdog,
		HeartbeatTimeout: cfg.WatchdogTimeout,
		LockupAction:     watchdog.ActionRestart,
	}, log, watchdog.Callbacks{})

	s := &Supervisor{
		cfg:          cfg,
		log:          log,
		specs:        specs,
		selfPath:     opts.SelfPath,
		hooksLib:     opts.HooksLib,
		sess:         sess,
		watchdog:     wd,
		publisher:    sharedstate.NewPublisher(sharedStatePath),
		auditLog:     opts.AuditLog,
		tracer:       tracer,
		bg:           &errgroup.Group{},
		exitCh:       make(chan exitEvent, 8),
		ignoredExits: map[int]struct{}{},
	}
	wd.SetCallbacks(watchdog.Callbacks{
		OnRestart: func(reason string) { s.requestRestart(reason, "") },
		OnKill:    func() { s.killChild() },
	})
	return s
}

// Run spawns the agent and blocks until it exits (terminally, not via
// restart) or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	defer s.cleanup()

	if err := s.writeOverlay(); err != nil {
		return 1, wardenerr.Wrap(wardenerr.KindConfiguration, "failed to write overlay MCP config", err)
	}

	if err := s.spawn(nil); err != nil {
		s.log.Warn("spawn failed, retrying once", zap.Error(err))
		time.Sleep(250 * time.Millisecond)
		if err := s.spawn(nil); err != nil {
			return 1, wardenerr.Wrap(wardenerr.KindSpawn, "failed to spawn agent", err)
		}
	}

	poller := ipc.New(s.sess.SignalPath, s.log, s.dispatchSignal)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	s.bg.Go(func() error {
		poller.Run(pollCtx)
		return nil
	})

	code, runErr := s.mainLoop(ctx)
	cancelPoll()
	_ = s.bg.Wait() // output pumps exit once their pipe closes; poller exits on cancelPoll
	return code, runErr
}

func (s *Supervisor) selfAbsPath() string {
	if s.selfPath != "" {
		return s.selfPath
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

func (s *Supervisor) writeOverlay() error {
	if s.cfg.NoInjectMCP {
		return nil
	}
	cfg := mcpconfig.New(Brand, s.selfAbsPath())
	existing, _ := os.ReadFile(overlayTarget)
	merged := mcpconfig.MergeExisting(cfg, existing)
	b, err := mcpconfig.Marshal(merged)
	if err != nil {
		return err
	}
	return os.WriteFile(s.sess.OverlayPath, b, 0o644)
}

func (s *Supervisor) childEnv() []string {
	env := os.Environ()
	if s.hooksLib != "" && s.cfg.Netmon == config.NetmonPreload {
		env = append(env, hooksLibEnv+"="+s.hooksLib)
		if s.sess.NetmonLogPath != "" {
			env = append(env, "NETMON_LOG="+s.sess.NetmonLogPath)
		}
	}
	if !s.cfg.NoInjectMCP {
		env = append(env, "OVERLAY_TARGET="+overlayTarget, "OVERLAY_PATH="+s.sess.OverlayPath)
	}
	env = append(env,
		fmt.Sprintf("%s=%d", tools.EnvWrapperPID, s.sess.WrapperPID),
		tools.EnvIPCDir+"="+s.cfg.IPCDir,
		tools.EnvBrand+"="+Brand,
		fmt.Sprintf("WARDEN_MAX_BACKGROUND_AGENTS=%d", s.maxBackgroundAgents()),
	)
	if s.cfg.AgentSpecFile != "" {
		env = append(env, "WARDEN_AGENTSPEC_FILE="+s.cfg.AgentSpecFile)
	}
	if s.cfg.AuditDBPath != "" {
		env = append(env, "WARDEN_AUDIT_DB="+s.cfg.AuditDBPath)
	}
	return env
}

// spawn execs the agent with argvOverride as its arguments (nil for the
// initial launch, which uses the original args; the full argv from
// composeRestartArgv on restart).
func (s *Supervisor) spawn(argvOverride []string) error {
	spec := s.sess.ChildAgent
	argv := argvOverride
	if argv == nil {
		argv = s.sess.OriginalArgs
	}

	cmd := exec.Command(spec.Executable, argv...)
	cmd.Env = s.childEnv()
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	pid := cmd.Process.Pid
	s.sess.SetChildPID(pid)

	// One waiter per generation: mainLoop tells a genuine exit apart from a
	// restart's intentional kill by checking ignoredExits, not by identity
	// of which goroutine is doing the waiting.
	go func() {
		err := cmd.Wait()
		s.exitCh <- exitEvent{pid: pid, err: err}
	}()

	s.bg.Go(func() error { s.pumpOutput(os.Stdout, stdout); return nil })
	s.bg.Go(func() error { s.pumpOutput(os.Stderr, stderr); return nil })

	return nil
}

func (s *Supervisor) maxBackgroundAgents() int {
	if s.cfg.MaxBackgroundAgents > 0 {
		return s.cfg.MaxBackgroundAgents
	}
	return 4
}

func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}

func (s *Supervisor) pumpOutput(dst *os.File, src io.Reader) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		fmt.Fprintln(dst, string(line))
		s.sess.Touch()
		s.watchdog.Ping()
	}
}

func (s *Supervisor) mainLoop(ctx context.Context) (int, error) {
	watchdogTicker := time.NewTicker(time.Second)
	defer watchdogTicker.Stop()
	publishTicker := time.NewTicker(time.Second)
	defer publishTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)

	for {
		select {
		case <-ctx.Done():
			s.gracefulShutdown()
			return 130, ctx.Err()

		case sig := <-sigCh:
			s.log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			s.gracefulShutdown()
			return 130, nil

		case ev := <-s.exitCh:
			if ev.fatal {
				s.log.Error("supervisor exiting: restart could not respawn the agent", zap.Error(ev.err))
				return 1, ev.err
			}
			s.mu.Lock()
			_, ignored := s.ignoredExits[ev.pid]
			if ignored {
				delete(s.ignoredExits, ev.pid)
			}
			s.mu.Unlock()
			if ignored {
				// this generation was killed by requestRestart; the
				// respawned child's own exit event is still to come.
				continue
			}
			code := exitCode(ev.err)
			s.log.Info("child exited", zap.Int("exit_code", code))
			return code, nil

		case <-watchdogTicker.C:
			s.sampleChildRSS()
			s.watchdog.Tick(ctx)

		case <-publishTicker.C:
			s.publishSnapshot(false)
		}
	}
}

// sampleChildRSS feeds getrusage(RUSAGE_CHILDREN)'s Maxrss into the
// watchdog's HighResource check. That figure is the peak resident set size
// among this wrapper's children that have already exited and been waited
// for; the currently running child's memory is not included until it
// exits, so its growth while alive does not trip MaxMemoryMB.
func (s *Supervisor) sampleChildRSS() {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return
	}
	s.watchdog.RecordRSS(ru.Maxrss * 1024)
}

func (s *Supervisor) dispatchSignal(req signalfile.Request) {
	switch req.Kind {
	case signalfile.Restart:
		s.requestRestart(req.Reason, req.Prompt)
	case signalfile.Heartbeat, signalfile.WatchdogPing:
		s.sess.Touch()
		s.watchdog.Ping()
	case signalfile.WatchdogDisable:
		dur := 5 * time.Minute
		if req.DurationSecs != nil {
			dur = time.Duration(*req.DurationSecs) * time.Second
		}
		s.watchdog.Disable(dur)
	case signalfile.WatchdogConfigure:
		var action *watchdog.LockupAction
		if req.LockupAction != "" {
			a := watchdog.LockupAction(req.LockupAction)
			action = &a
		}
		var timeout *time.Duration
		if req.DurationSecs != nil {
			d := time.Duration(*req.DurationSecs) * time.Second
			timeout = &d
		}
		s.watchdog.Configure(req.Enabled, timeout, action, req.MaxMemoryMB)
	}
}

// requestRestart performs spec.md §4.G's 3-2-2 signal-escalation restart
// procedure: SIGINT, wait 3s, SIGTERM, wait 2s, SIGKILL, then respawn with
// the continue flag and prompt composed onto argv.
func (s *Supervisor) requestRestart(reason, prompt string) {
	ctx, span := s.tracer.Start(context.Background(), "supervisor.restart")
	span.SetAttributes(attribute.String("warden.restart.reason", reason))
	defer span.End()

	s.log.Info("restart requested", zap.String("reason", reason))

	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		s.mu.Unlock()
		return
	}
	pid := cmd.Process.Pid
	s.ignoredExits[pid] = struct{}{}
	s.mu.Unlock()

	if err := s.escalateShutdown(pid); err != nil {
		s.log.Warn("shutdown escalation reported an error", zap.Error(err))
	}

	argv := s.composeRestartArgv(prompt)
	count := s.sess.RecordRestart()
	if err := s.spawn(argv); err != nil {
		s.log.Error("respawn after restart failed, supervisor will exit", zap.Error(err))
		s.exitCh <- exitEvent{fatal: true, err: err}
		return
	}
	s.watchdog.Ping()
	if s.auditLog != nil {
		newPID := 0
		s.mu.Lock()
		if s.cmd != nil && s.cmd.Process != nil {
			newPID = s.cmd.Process.Pid
		}
		s.mu.Unlock()
		_ = s.auditLog.RecordRestart(ctx, s.sess.WrapperPID, count, reason, prompt, newPID)
	}
	s.publishSnapshot(true)
}

// composeRestartArgv builds the respawn arguments: the continue flag (if
// supported), then the prompt as a positional argument (if given), then the
// original args (spec.md §8 scenarios 2 and 3). Without continue support
// the original args are returned unchanged and the prompt is dropped.
func (s *Supervisor) composeRestartArgv(prompt string) []string {
	spec := s.sess.ChildAgent
	argv := append([]string{}, s.sess.OriginalArgs...)
	if !spec.SupportsContinue || spec.ContinueFlag == "" {
		return argv
	}
	out := []string{spec.ContinueFlag}
	if prompt != "" {
		out = append(out, prompt)
	}
	out = append(out, argv...)
	return out
}

func (s *Supervisor) escalateShutdown(pid int) error {
	_ = syscall.Kill(pid, syscall.SIGINT)
	if s.waitExit(shutdownSIGINT) {
		return nil
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	if s.waitExit(shutdownSIGTERM) {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

func (s *Supervisor) waitExit(timeout time.Duration) bool {
	s.mu.Lock()
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.mu.Unlock()
	if pid == 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return true // process no longer exists
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func (s *Supervisor) killChild() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGKILL)
	}
}

func (s *Supervisor) gracefulShutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = s.escalateShutdown(cmd.Process.Pid)
	}
}

func (s *Supervisor) publishSnapshot(immediate bool) {
	st := sharedstate.State{
		Session:  s.sess.Snap(),
		Watchdog: s.watchdog.Snap(),
	}
	if s.sess.NetmonLogPath != "" {
		events, err := netevent.Tail(s.sess.NetmonLogPath, 50)
		if err == nil {
			st.RecentNetEvents = events
		}
	}
	var err error
	if immediate {
		err = s.publisher.PublishNow(st)
	} else {
		err = s.publisher.Publish(st)
	}
	if err != nil {
		s.log.Warn("shared state publish failed", zap.Error(err))
	}
}

// cleanup removes the signal file, overlay file, and shared-state file on
// the way out, best-effort, per spec.md §8 invariant 6.
func (s *Supervisor) cleanup() {
	_ = os.Remove(s.sess.SignalPath)
	_ = os.Remove(s.sess.OverlayPath)
	_ = os.Remove(s.sess.SharedStatePath)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
