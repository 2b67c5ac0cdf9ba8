// Package tools implements the MCP tool registry (component D), per
// spec.md §4.D. Tools that affect the wrapper (restart, watchdog
// configuration) write a SignalRequest for the wrapper to consume; tools
// that query or drive background agents talk directly to an in-process
// agent pool, since this MCP server instance is the one the pool lives in.
package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/internal/wardenerr"
	"github.com/wardenhq/warden/pkg/netevent"
	"github.com/wardenhq/warden/pkg/signalfile"
)

// Env names the wrapper sets for the MCP-server child so it can find its
// way back to the wrapper's IPC surface (spec.md §6 "environment variables
// produced by the wrapper for the child", extended with warden-specific
// discovery vars since the MCP process is a separate OS process).
const (
	EnvWrapperPID = "WARDEN_WRAPPER_PID"
	EnvIPCDir     = "WARDEN_IPC_DIR"
	EnvBrand      = "WARDEN_BRAND"
)

// Registry bundles the dependencies every tool handler needs.
type Registry struct {
	log  *logging.Logger
	pool *pool.Pool

	brand  string
	ipcDir string
}

// New creates a Registry. pool may be a freshly constructed, empty pool:
// background agents spawned through agent_spawn live for the lifetime of
// this MCP server process.
func New(log *logging.Logger, p *pool.Pool, brand, ipcDir string) *Registry {
	return &Registry{log: log, pool: p, brand: brand, ipcDir: ipcDir}
}

// wrapperPID discovers the wrapper's pid from the environment, or returns
// an error if this MCP server is not running under a wrapper-spawned agent.
func (r *Registry) wrapperPID() (int, error) {
	v := os.Getenv(EnvWrapperPID)
	if v == "" {
		return 0, wardenerr.New(wardenerr.KindToolArgs, "no wrapper pid in environment: not running under a wrapper")
	}
	var pid int
	if _, err := fmt.Sscanf(v, "%d", &pid); err != nil {
		return 0, wardenerr.Wrap(wardenerr.KindToolArgs, "malformed wrapper pid", err)
	}
	return pid, nil
}

func (r *Registry) signalPath(pid int) string {
	return signalfile.Path(r.ipcDir, r.brand, pid)
}

func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

type handlerFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

var tracer trace.Tracer = otel.Tracer("warden-mcpserver")

// traced wraps a tool handler in a span named after the tool. The span lives
// in this MCP server process; it is not linked to the wrapper's restart span,
// since no span context crosses the signal file.
func traced(name string, fn handlerFunc) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracer.Start(ctx, "mcp.tool/"+name)
		defer span.End()
		span.SetAttributes(attribute.String("warden.tool.name", name))
		result, err := fn(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return result, err
	}
}

// Register attaches every supervisor tool to s.
func (r *Registry) Register(s *server.MCPServer) {
	r.registerRestart(s)
	r.registerServerStatus(s)
	r.registerWatchdogTools(s)
	r.registerAgentTools(s)
	r.registerNetmonTools(s)
}

func (r *Registry) registerRestart(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("restart_claude",
			mcp.WithDescription("Restart the wrapped agent process, preserving session continuation when the agent supports it."),
			mcp.WithString("reason", mcp.Description("Why the restart is being requested")),
			mcp.WithString("prompt", mcp.Description("A prompt to feed the agent on respawn")),
		),
		traced("restart_claude", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			pid, err := r.wrapperPID()
			if err != nil {
				return errResult(err)
			}
			reason, _ := args["reason"].(string)
			prompt, _ := args["prompt"].(string)

			if err := signalfile.Write(r.signalPath(pid), signalfile.Request{
				Kind:   signalfile.Restart,
				Reason: reason,
				Prompt: prompt,
			}); err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindSignalParse, "failed to write restart signal", err))
			}
			return mcp.NewToolResultText(fmt.Sprintf(`{"ok":true,"wrapper_pid":%d}`, pid)), nil
		}),
	)
}

func (r *Registry) registerServerStatus(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("server_status",
			mcp.WithDescription("Report this MCP server's pid, the wrapper's pid (if running under one), and the working directory."),
		),
		traced("server_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			wd, _ := os.Getwd()
			pid, err := r.wrapperPID()
			if err != nil {
				return mcp.NewToolResultText(fmt.Sprintf(
					`{"mcp_server_pid":%d,"wrapper_running":false,"working_directory":%q}`,
					os.Getpid(), wd)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				`{"mcp_server_pid":%d,"wrapper_pid":%d,"wrapper_running":true,"working_directory":%q}`,
				os.Getpid(), pid, wd)), nil
		}),
	)
}

func (r *Registry) registerWatchdogTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("watchdog_status", mcp.WithDescription("Report the watchdog's current state and configuration.")),
		traced("watchdog_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			pid, err := r.wrapperPID()
			if err != nil {
				return errResult(err)
			}
			// Status is read from shared state by the caller's dashboard path;
			// from the MCP side we can only confirm the wrapper is reachable.
			return mcp.NewToolResultText(fmt.Sprintf(`{"wrapper_pid":%d}`, pid)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("watchdog_configure",
			mcp.WithDescription("Update watchdog thresholds or the configured lockup action."),
			mcp.WithBoolean("enabled", mcp.Description("Enable or disable watchdog evaluation")),
			mcp.WithNumber("heartbeat_timeout_secs", mcp.Description("Seconds of inactivity before escalating")),
			mcp.WithString("lockup_action", mcp.Enum("warn", "restart", "restart_with_backoff", "kill", "notify_and_wait")),
			mcp.WithNumber("max_memory_mb", mcp.Description("RSS threshold in megabytes for HighResource")),
		),
		traced("watchdog_configure", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			pid, err := r.wrapperPID()
			if err != nil {
				return errResult(err)
			}

			sig := signalfile.Request{Kind: signalfile.WatchdogConfigure}
			if v, ok := args["enabled"].(bool); ok {
				sig.Enabled = &v
			}
			if v, ok := args["heartbeat_timeout_secs"].(float64); ok {
				secs := int64(v)
				sig.DurationSecs = &secs
			}
			if v, ok := args["lockup_action"].(string); ok {
				sig.LockupAction = v
			}
			if v, ok := args["max_memory_mb"].(float64); ok {
				mb := int64(v)
				sig.MaxMemoryMB = &mb
			}

			if err := signalfile.Write(r.signalPath(pid), sig); err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindSignalParse, "failed to write watchdog_configure signal", err))
			}
			return mcp.NewToolResultText(`{"ok":true}`), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("watchdog_disable",
			mcp.WithDescription("Suspend watchdog evaluation for a window."),
			mcp.WithNumber("duration_secs", mcp.Description("How long to suspend evaluation, in seconds")),
		),
		traced("watchdog_disable", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			pid, err := r.wrapperPID()
			if err != nil {
				return errResult(err)
			}
			var dur int64 = 300
			if v, ok := args["duration_secs"].(float64); ok {
				dur = int64(v)
			}
			if err := signalfile.Write(r.signalPath(pid), signalfile.Request{
				Kind:         signalfile.WatchdogDisable,
				DurationSecs: &dur,
			}); err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindSignalParse, "failed to write watchdog_disable signal", err))
			}
			return mcp.NewToolResultText(`{"ok":true}`), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("watchdog_ping", mcp.WithDescription("Reset the watchdog's last-activity timestamp to now.")),
		traced("watchdog_ping", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			pid, err := r.wrapperPID()
			if err != nil {
				return errResult(err)
			}
			if err := signalfile.Write(r.signalPath(pid), signalfile.Request{Kind: signalfile.WatchdogPing}); err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindSignalParse, "failed to write watchdog_ping signal", err))
			}
			return mcp.NewToolResultText(`{"ok":true}`), nil
		}),
	)
}

func (r *Registry) registerAgentTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("agent_spawn",
			mcp.WithDescription("Spawn a background agent to work on a task independently."),
			mcp.WithString("description", mcp.Required(), mcp.Description("Task description for the background agent")),
			mcp.WithString("agent_type", mcp.Description("Which agent variant to spawn (default: claude)")),
			mcp.WithString("working_directory", mcp.Description("Working directory for the spawned agent (default: current)")),
			mcp.WithNumber("max_iterations", mcp.Description("Cap on the agent's iteration budget, if supported")),
		),
		traced("agent_spawn", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			desc, _ := args["description"].(string)
			if desc == "" {
				return errResult(wardenerr.New(wardenerr.KindToolArgs, "description is required"))
			}
			agentType, _ := args["agent_type"].(string)
			if agentType == "" {
				agentType = "claude"
			}
			wd, _ := args["working_directory"].(string)
			if wd == "" {
				wd, _ = os.Getwd()
			}
			maxIter := 0
			if v, ok := args["max_iterations"].(float64); ok {
				maxIter = int(v)
			}

			id, err := r.pool.Spawn(ctx, agentType, desc, wd, maxIter)
			if err != nil {
				return errResult(err)
			}
			return mcp.NewToolResultText(fmt.Sprintf(`{"agent_id":%q}`, id)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_list", mcp.WithDescription("List every background agent spawned by this MCP server.")),
		traced("agent_list", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			list := r.pool.List()
			return mcp.NewToolResultText(marshalAgentList(list)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_status",
			mcp.WithDescription("Report one background agent's status, pid, and recent output."),
			mcp.WithString("agent_id", mcp.Required()),
		),
		traced("agent_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, _ := args["agent_id"].(string)
			snap, err := r.pool.Status(id)
			if err != nil {
				return errResult(err)
			}
			return mcp.NewToolResultText(marshalAgentSnapshot(snap)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_await",
			mcp.WithDescription("Block until a background agent reaches a terminal state, or a timeout elapses."),
			mcp.WithString("agent_id", mcp.Required()),
			mcp.WithNumber("timeout_secs", mcp.Description("0 returns the current status immediately; omitted means unbounded")),
		),
		traced("agent_await", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, _ := args["agent_id"].(string)
			timeout := time.Duration(-1) // omitted: wait without limit
			if v, ok := args["timeout_secs"].(float64); ok {
				timeout = time.Duration(v * float64(time.Second))
			}
			snap, err := r.pool.Await(ctx, id, timeout)
			if err != nil {
				return errResult(err)
			}
			return mcp.NewToolResultText(fmt.Sprintf(`{"status":%q,"result":%q}`, snap.Status, snap.Result)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_stop",
			mcp.WithDescription("Stop a background agent: SIGTERM, escalating to SIGKILL after 2 seconds."),
			mcp.WithString("agent_id", mcp.Required()),
		),
		traced("agent_stop", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, _ := args["agent_id"].(string)
			if err := r.pool.Stop(id); err != nil {
				return errResult(err)
			}
			return mcp.NewToolResultText(`{"ok":true}`), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_pool_stats", mcp.WithDescription("Report pool occupancy: max, active, running, completed, failed.")),
		traced("agent_pool_stats", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			stats := r.pool.Stats()
			return mcp.NewToolResultText(fmt.Sprintf(
				`{"max":%d,"active":%d,"running":%d,"completed":%d,"failed":%d}`,
				stats.Max, stats.Active, stats.Running, stats.Completed, stats.Failed)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("agent_file_locks", mcp.WithDescription("List every file lock currently held by a background agent.")),
		traced("agent_file_locks", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			locks := r.pool.Locks()
			return mcp.NewToolResultText(marshalLocks(locks)), nil
		}),
	)
}

func (r *Registry) registerNetmonTools(s *server.MCPServer) {
	s.AddTool(
		mcp.NewTool("netmon_status", mcp.WithDescription("Summarize captured network activity: connection count, unique addresses, bytes sent/received.")),
		traced("netmon_status", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path := os.Getenv("NETMON_LOG")
			if path == "" {
				return errResult(wardenerr.New(wardenerr.KindToolArgs, "netmon is not enabled for this session"))
			}
			events, err := netevent.ReadAll(path)
			if err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindNetmonWrite, "failed to read netmon log", err))
			}
			return mcp.NewToolResultText(summarizeNetmon(events)), nil
		}),
	)

	s.AddTool(
		mcp.NewTool("netmon_log",
			mcp.WithDescription("Tail the most recent network events."),
			mcp.WithNumber("count", mcp.Description("Number of events to return (default 20)")),
		),
		traced("netmon_log", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			path := os.Getenv("NETMON_LOG")
			if path == "" {
				return errResult(wardenerr.New(wardenerr.KindToolArgs, "netmon is not enabled for this session"))
			}
			count := 20
			if v, ok := args["count"].(float64); ok {
				count = int(v)
			}
			events, err := netevent.Tail(path, count)
			if err != nil {
				return errResult(wardenerr.Wrap(wardenerr.KindNetmonWrite, "failed to read netmon log", err))
			}
			return mcp.NewToolResultText(marshalNetEvents(events)), nil
		}),
	)
}
