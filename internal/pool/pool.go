// Package pool implements the background-agent pool (component E):
// BackgroundAgent lifecycle, file-lock coordination, and status tracking,
// per spec.md §3 and §4.E.
package pool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/telemetry"
	"github.com/wardenhq/warden/internal/termtail"
	"github.com/wardenhq/warden/internal/wardenerr"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Status is one of BackgroundAgent's lifecycle states.
type Status string

const (
	Queued    Status = "Queued"
	Running   Status = "Running"
	Succeeded Status = "Succeeded"
	Failed    Status = "Failed"
	Stopped   Status = "Stopped"
)

func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Stopped
}

// LockMode is a FileLock's access mode.
type LockMode string

const (
	Read  LockMode = "Read"
	Write LockMode = "Write"
)

// FileLock is one advisory, process-local lock entry (spec.md §3).
type FileLock struct {
	Path       string
	HolderID   string
	Mode       LockMode
	AcquiredAt time.Time
}

// pathLocks is the set of current holders for one path. Write is exclusive
// (at most one holder, and only when it's also the sole holder), Read is
// shared (many holders may hold it concurrently).
type pathLocks struct {
	holders map[string]*FileLock // holderID -> that holder's lock
}

func (pl *pathLocks) hasOtherHolder(holderID string) bool {
	for id := range pl.holders {
		if id != holderID {
			return true
		}
	}
	return false
}

// Agent is one BackgroundAgent record (spec.md §3).
type Agent struct {
	ID              string
	TaskDescription string
	AgentType       string
	WorkingDir      string
	MaxIterations   int

	mu         sync.Mutex
	status     Status
	pid        int
	result     string
	startedAt  time.Time
	endedAt    time.Time
	stdoutTail *termtail.Tail
	stderrTail *termtail.Tail

	cmd     *exec.Cmd
	waiters []chan struct{}
}

// Snapshot is a lock-free, point-in-time copy of an Agent's status fields.
type Snapshot struct {
	ID         string
	Status     Status
	Task       string
	PID        int
	StdoutTail string
	StderrTail string
	Result     string
	StartedAt  time.Time
	EndedAt    time.Time
}

func (a *Agent) snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ID:         a.ID,
		Status:     a.status,
		Task:       a.TaskDescription,
		PID:        a.pid,
		StdoutTail: a.stdoutTail.String(),
		StderrTail: a.stderrTail.String(),
		Result:     a.result,
		StartedAt:  a.startedAt,
		EndedAt:    a.endedAt,
	}
}

// Pool manages a bounded set of concurrently running background agents.
type Pool struct {
	maxAgents int
	table     agentspec.Table
	log       *logging.Logger
	auditLog  *audit.Log // optional, may be nil

	mu     sync.Mutex
	agents map[string]*Agent
	locks  map[string]*pathLocks // keyed by path; see pathLocks for the Read-shared/Write-exclusive rules
}

// New creates a Pool bounded to maxAgents concurrently Running agents.
func New(maxAgents int, table agentspec.Table, log *logging.Logger, auditLog *audit.Log) *Pool {
	p := &Pool{
		maxAgents: maxAgents,
		table:     table,
		log:       log.WithFields(zap.String("component", "pool")),
		auditLog:  auditLog,
		agents:    make(map[string]*Agent),
		locks:     make(map[string]*pathLocks),
	}
	p.registerGauges()
	return p
}

// registerGauges registers the pool's occupancy (the same numbers
// agent_pool_stats reports) as OpenTelemetry observable gauges on the global
// meter provider. telemetry.Setup installs no meter provider, so these
// gauges are not exported by this program.
func (p *Pool) registerGauges() {
	meter := telemetry.Meter("warden-pool")
	_, _ = meter.Int64ObservableGauge("warden.pool.active_agents",
		metric.WithDescription("Number of non-terminal background agents in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			p.mu.Lock()
			n := p.activeCount()
			p.mu.Unlock()
			o.Observe(int64(n))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("warden.pool.max_agents",
		metric.WithDescription("Configured cap on concurrently running background agents"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.maxAgents))
			return nil
		}),
	)
}

func (p *Pool) activeCount() int {
	n := 0
	for _, a := range p.agents {
		a.mu.Lock()
		if !a.status.Terminal() {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

// Spawn starts a new background agent, or fails with KindPoolFull if the
// pool is already at capacity (spec.md §4.E: "no queueing in the core").
func (p *Pool) Spawn(ctx context.Context, agentType, taskDescription, workingDir string, maxIterations int) (string, error) {
	p.mu.Lock()
	if p.activeCount() >= p.maxAgents {
		p.mu.Unlock()
		return "", wardenerr.New(wardenerr.KindPoolFull, "pool full")
	}
	p.mu.Unlock()

	spec, ok := p.table.Lookup(agentType)
	if !ok {
		return "", wardenerr.New(wardenerr.KindToolArgs, fmt.Sprintf("unknown agent type %q", agentType))
	}

	id := uuid.NewString()

	// Claim the working directory as this agent's edit/read scope before it
	// starts, per spec.md §3's "acquired by E for an agent before it
	// edits/reads". Released on terminal transition in monitor.
	if err := p.AcquireLock(workingDir, Write, id); err != nil {
		return "", err
	}

	args := append([]string{}, spec.AutoPermissionFlags...)
	cmd := exec.CommandContext(context.Background(), spec.Executable, args...)
	cmd.Dir = workingDir

	agent := &Agent{
		ID:              id,
		TaskDescription: taskDescription,
		AgentType:       agentType,
		WorkingDir:      workingDir,
		MaxIterations:   maxIterations,
		status:          Queued,
		stdoutTail:      termtail.New(200),
		stderrTail:      termtail.New(200),
		startedAt:       time.Now(),
		cmd:             cmd,
	}

	ptyFile, err := pty.Start(cmd)
	if err != nil {
		p.ReleaseLock(workingDir, id)
		return "", wardenerr.Wrap(wardenerr.KindSpawn, "failed to start background agent", err)
	}

	agent.mu.Lock()
	agent.status = Running
	agent.pid = cmd.Process.Pid
	agent.mu.Unlock()

	p.mu.Lock()
	p.agents[id] = agent
	p.mu.Unlock()

	if p.auditLog != nil {
		_ = p.auditLog.RecordAgentRunStart(ctx, id, taskDescription, agentType)
	}

	go p.monitor(agent, ptyFile)

	p.log.Info("spawned background agent", zap.String("id", id), zap.String("agent_type", agentType), zap.Int("pid", agent.pid))
	return id, nil
}

// monitor pumps a pty-backed agent's combined output into its tail buffer
// and waits for exit, mirroring the teacher's launcher.go pipeOutput +
// monitorExit split but folded into one goroutine per agent.
func (p *Pool) monitor(agent *Agent, ptyFile *os.File) {
	scanner := bufio.NewScanner(ptyFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		_, _ = agent.stdoutTail.Write(line)
	}

	err := agent.cmd.Wait()
	ptyFile.Close()

	agent.mu.Lock()
	agent.endedAt = time.Now()
	if err != nil {
		agent.result = err.Error()
	} else {
		agent.result = "ok"
	}
	// Stop has already recorded Stopped; a terminal state is never replaced.
	if agent.status != Stopped {
		if err != nil {
			agent.status = Failed
		} else {
			agent.status = Succeeded
		}
	}
	status := agent.status
	waiters := agent.waiters
	agent.waiters = nil
	agent.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	p.releaseAllLocks(agent.ID)

	if p.auditLog != nil {
		_ = p.auditLog.RecordAgentRunEnd(context.Background(), agent.ID, string(status), agent.result)
	}

	p.log.Info("background agent finished", zap.String("id", agent.ID), zap.String("status", string(status)))
}

// Stop transitions an agent to Stopped via SIGTERM, escalating to SIGKILL
// after 2 seconds (spec.md §4.D's agent_stop contract).
func (p *Pool) Stop(id string) error {
	p.mu.Lock()
	agent, ok := p.agents[id]
	p.mu.Unlock()
	if !ok {
		return wardenerr.New(wardenerr.KindToolArgs, "unknown agent id")
	}

	agent.mu.Lock()
	if agent.status.Terminal() {
		agent.mu.Unlock()
		return nil
	}
	pid := agent.pid
	agent.status = Stopped
	agent.mu.Unlock()

	if pid == 0 {
		return nil
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	go func() {
		time.Sleep(2 * time.Second)
		agent.mu.Lock()
		terminal := agent.endedAt.IsZero()
		agent.mu.Unlock()
		if terminal {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}()
	return nil
}

// Status returns a snapshot of one agent.
func (p *Pool) Status(id string) (Snapshot, error) {
	p.mu.Lock()
	agent, ok := p.agents[id]
	p.mu.Unlock()
	if !ok {
		return Snapshot{}, wardenerr.New(wardenerr.KindToolArgs, "unknown agent id")
	}
	return agent.snapshot(), nil
}

// List returns a snapshot of every agent.
func (p *Pool) List() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a.snapshot())
	}
	return out
}

// Stats summarizes pool occupancy for agent_pool_stats.
type Stats struct {
	Max       int
	Active    int
	Running   int
	Completed int
	Failed    int
}

// Stats computes current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Max: p.maxAgents}
	for _, a := range p.agents {
		snap := a.snapshot()
		switch snap.Status {
		case Running, Queued:
			s.Active++
			s.Running++
		case Succeeded:
			s.Completed++
		case Failed:
			s.Failed++
		}
	}
	return s
}

// Await blocks until id reaches a terminal state or timeout elapses
// (0 means return immediately, per spec.md §8's boundary behavior; a
// negative timeout waits without limit). It
// never cancels the underlying agent on timeout or caller disconnect
// (spec.md §9's Open Question decision).
func (p *Pool) Await(ctx context.Context, id string, timeout time.Duration) (Snapshot, error) {
	p.mu.Lock()
	agent, ok := p.agents[id]
	p.mu.Unlock()
	if !ok {
		return Snapshot{}, wardenerr.New(wardenerr.KindToolArgs, "unknown agent id")
	}

	agent.mu.Lock()
	if agent.status.Terminal() || timeout == 0 {
		// timeout_secs=0 returns the current status immediately without
		// blocking, per spec.md §8's boundary behavior.
		agent.mu.Unlock()
		return agent.snapshot(), nil
	}
	ch := make(chan struct{})
	agent.waiters = append(agent.waiters, ch)
	agent.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ch:
		return agent.snapshot(), nil
	case <-timeoutCh:
		return agent.snapshot(), nil
	case <-ctx.Done():
		// Detach, don't cancel: the agent keeps running.
		return agent.snapshot(), nil
	}
}

// AcquireLock implements the file-lock protocol from spec.md §4.E: Write is
// exclusive, Read is shared, a sole Read holder may upgrade to Write, any
// conflicting request fails immediately without blocking.
func (p *Pool) AcquireLock(path string, mode LockMode, holderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.locks[path]
	if !ok {
		pl = &pathLocks{holders: map[string]*FileLock{}}
		p.locks[path] = pl
	}

	if existing, held := pl.holders[holderID]; held {
		if existing.Mode == Read && mode == Write {
			if pl.hasOtherHolder(holderID) {
				return wardenerr.New(wardenerr.KindLockConflict, fmt.Sprintf("path %s is locked by another holder", path))
			}
			existing.Mode = Write
			existing.AcquiredAt = time.Now()
		}
		return nil // already holds a sufficient lock
	}

	for _, l := range pl.holders {
		if l.Mode == Write || mode == Write {
			return wardenerr.New(wardenerr.KindLockConflict, fmt.Sprintf("path %s is locked by another holder", path))
		}
	}

	pl.holders[holderID] = &FileLock{Path: path, HolderID: holderID, Mode: mode, AcquiredAt: time.Now()}
	return nil
}

// ReleaseLock releases a lock explicitly held by holderID, if any.
func (p *Pool) ReleaseLock(path, holderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(path, holderID)
}

func (p *Pool) releaseLocked(path, holderID string) {
	pl, ok := p.locks[path]
	if !ok {
		return
	}
	delete(pl.holders, holderID)
	if len(pl.holders) == 0 {
		delete(p.locks, path)
	}
}

// Locks returns every currently held lock, across every holder of every path.
func (p *Pool) Locks() []FileLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FileLock, 0, len(p.locks))
	for _, pl := range p.locks {
		for _, l := range pl.holders {
			out = append(out, *l)
		}
	}
	return out
}

func (p *Pool) releaseAllLocks(holderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path := range p.locks {
		p.releaseLocked(path, holderID)
	}
}
