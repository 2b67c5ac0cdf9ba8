// Package main is warden's entry point. It dispatches between three modes:
// wrapper mode (warden <agent-name> [args...]), the injected MCP server
// (warden --mcp-server), and a standalone dashboard stub (warden
// --dashboard [pid]) that prints the current shared-state snapshot for a
// running wrapper. Argument parsing beyond this dispatch is deliberately
// thin; the interesting behavior lives in internal/supervisor,
// internal/mcpserver, and internal/sharedstate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/admin"
	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/mcpserver"
	"github.com/wardenhq/warden/internal/privdrop"
	"github.com/wardenhq/warden/internal/sharedstate"
	"github.com/wardenhq/warden/internal/supervisor"
	"github.com/wardenhq/warden/internal/telemetry"
	"github.com/wardenhq/warden/internal/watchdog"
)

// version is stamped at build time via -ldflags, matching the teacher's
// convention for its own binaries.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && (args[0] == "-V" || args[0] == "--version") {
		fmt.Printf("warden %s\n", version)
		return 0
	}
	if len(args) > 0 && args[0] == "--mcp-server" {
		return runMCPServer()
	}
	if len(args) > 0 && args[0] == "--dashboard" {
		return runDashboard(args[1:])
	}
	return runWrapper(args)
}

// runWrapper is warden's default mode: wrap a named agent CLI and
// supervise it for the life of the process.
func runWrapper(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: warden <agent-name> [agent args...]")
		return 1
	}
	agentName := args[0]
	agentArgs := args[1:]

	fs := pflag.NewFlagSet("warden", pflag.ContinueOnError)
	v := viper.New()
	config.Flags(fs, v)
	if err := fs.Parse(agentArgs); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		return 1
	}
	// Flags warden itself recognizes are consumed; positional arguments and
	// everything after "--" (fs.Args()) are passed straight through to the
	// wrapped agent. Any other flag before "--" is a parse error.
	cfg := config.Load(v, agentName, fs.Args())

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	specs, err := agentspec.LoadFile(cfg.AgentSpecFile)
	if err != nil {
		log.Error("failed to load agent spec table", zap.Error(err))
		return 1
	}
	spec, ok := specs.Lookup(agentName)
	if !ok {
		fmt.Fprintf(os.Stderr, "warden: unknown agent %q\n", agentName)
		return 1
	}

	if privdrop.Needed() && !cfg.KeepRoot {
		if err := privdrop.Drop(); err != nil {
			log.Error("privilege drop failed", zap.Error(err))
			return 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.Setup(ctx, "warden")
	if err != nil {
		log.Warn("telemetry setup failed, continuing without it", zap.Error(err))
		providers = &telemetry.Providers{Tracer: otel.Tracer("warden"), Shutdown: func(context.Context) error { return nil }}
	} else {
		defer func() { _ = providers.Shutdown(context.Background()) }()
	}

	var auditLog *audit.Log
	if cfg.AuditDBPath != "" {
		auditLog, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Warn("audit log unavailable, restarts will not be persisted", zap.Error(err))
		} else {
			defer auditLog.Close()
		}
	}

	selfPath, err := os.Executable()
	if err != nil {
		selfPath = os.Args[0]
	}

	sup := supervisor.New(cfg, spec, specs, log, supervisor.Options{
		SelfPath: selfPath,
		HooksLib: os.Getenv("WARDEN_HOOKS_LIB"),
		AuditLog: auditLog,
		Tracer:   providers.Tracer,
	})

	if cfg.AdminAddr != "" {
		port, perr := parsePort(cfg.AdminAddr)
		if perr != nil {
			log.Warn("invalid --admin-addr, admin surface disabled", zap.Error(perr))
		} else {
			adminSrv := admin.New(log, sharedStatePathFor(cfg, os.Getpid()))
			go func() {
				if err := adminSrv.Start(ctx, port); err != nil {
					log.Warn("admin surface stopped", zap.Error(err))
				}
			}()
			go broadcastSnapshotsUntilDone(ctx, adminSrv)
		}
	}

	watchdog.NotifyReady()

	code, err := sup.Run(ctx)
	if err != nil && code == 1 {
		log.Error("wrapper exiting on error", zap.Error(err))
	}
	return code
}

func runMCPServer() int {
	log := logging.Default()
	wrapperPID := os.Getenv("WARDEN_WRAPPER_PID")
	ipcDir := os.Getenv("WARDEN_IPC_DIR")
	brand := os.Getenv("WARDEN_BRAND")
	if brand == "" {
		brand = supervisor.Brand
	}
	if wrapperPID == "" || ipcDir == "" {
		fmt.Fprintln(os.Stderr, "warden --mcp-server: missing WARDEN_WRAPPER_PID/WARDEN_IPC_DIR in environment")
		return 1
	}

	specs, err := agentspec.LoadFile(os.Getenv("WARDEN_AGENTSPEC_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden --mcp-server: %v\n", err)
		return 1
	}

	maxAgents := 4
	if v := os.Getenv("WARDEN_MAX_BACKGROUND_AGENTS"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			maxAgents = n
		}
	}

	if providers, terr := telemetry.Setup(context.Background(), "warden-mcp"); terr == nil {
		defer func() { _ = providers.Shutdown(context.Background()) }()
	}

	var auditLog *audit.Log
	if path := os.Getenv("WARDEN_AUDIT_DB"); path != "" {
		if l, oerr := audit.Open(path); oerr == nil {
			auditLog = l
			defer l.Close()
		}
	}

	if err := mcpserver.Run(context.Background(), log, brand, ipcDir, maxAgents, specs, auditLog); err != nil {
		fmt.Fprintf(os.Stderr, "warden --mcp-server: %v\n", err)
		return 1
	}
	return 0
}

// runDashboard prints the current shared-state snapshot for a running
// wrapper, found either by an explicit pid argument or by scanning the
// default IPC directory for the single most recently written state file.
func runDashboard(args []string) int {
	ipcDir := "/tmp"
	if v := os.Getenv("WARDEN_IPC_DIR"); v != "" {
		ipcDir = v
	}

	var statePath string
	if len(args) > 0 {
		statePath = filepath.Join(ipcDir, fmt.Sprintf("%s-state-%s.json", supervisor.Brand, args[0]))
	} else {
		found, err := latestStateFile(ipcDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warden --dashboard: %v\n", err)
			return 1
		}
		statePath = found
	}

	st, err := sharedstate.Read(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden --dashboard: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(st)
	return 0
}

func latestStateFile(ipcDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(ipcDir, supervisor.Brand+"-state-*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no running %s session found in %s", supervisor.Brand, ipcDir)
	}
	latest := matches[0]
	latestMod := modTime(latest)
	for _, m := range matches[1:] {
		if t := modTime(m); t > latestMod {
			latest, latestMod = m, t
		}
	}
	return latest, nil
}

func modTime(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}

// broadcastSnapshotsUntilDone pushes the latest shared-state snapshot to
// connected admin websocket clients on the same 1s cadence the supervisor
// publishes at, until ctx is cancelled.
func broadcastSnapshotsUntilDone(ctx context.Context, adminSrv *admin.Server) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			adminSrv.BroadcastSnapshot()
		}
	}
}

func sharedStatePathFor(cfg config.Config, wrapperPID int) string {
	return filepath.Join(cfg.IPCDir, fmt.Sprintf("%s-state-%d.json", supervisor.Brand, wrapperPID))
}

// parsePort accepts either a bare port ("8787") or a host:port address
// ("127.0.0.1:8787"); the admin surface always binds to 127.0.0.1 itself
// regardless of what host is given here (internal/admin.Server.Start).
func parsePort(addr string) (int, error) {
	if port, err := strconv.Atoi(addr); err == nil {
		return port, nil
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid admin address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid admin address %q", addr)
	}
	return port, nil
}
