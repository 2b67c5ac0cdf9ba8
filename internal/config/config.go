// Package config loads warden's runtime configuration from CLI flags and
// WARDEN_-prefixed environment variables, merged via viper with
// flag > env > default precedence. No configuration file is read here; the
// AgentSpec table's YAML file is loaded separately by internal/agentspec.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NetmonMode selects how network observation is wired up, per spec.md §6's
// `--netmon[=preload|=netns]` flag.
type NetmonMode string

const (
	NetmonOff     NetmonMode = ""
	NetmonPreload NetmonMode = "preload"
	NetmonNetns   NetmonMode = "netns"
)

// Config is the merged runtime configuration for wrapper mode.
type Config struct {
	AgentName           string
	AgentArgs           []string
	Netmon              NetmonMode
	WatchdogTimeout     time.Duration
	NoWatchdog          bool
	NoInjectMCP         bool
	KeepRoot            bool
	IPCDir              string
	AgentSpecFile       string // optional YAML AgentSpec table override
	AdminAddr           string // empty disables the admin HTTP/WS surface
	AuditDBPath         string
	MaxBackgroundAgents int
	LogLevel            string
	LogFormat           string
}

// Flags registers warden's wrapper-mode flags onto fs and binds them into v,
// along with the WARDEN_-prefixed environment variable equivalents.
func Flags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("netmon", "", "enable network observation: preload or netns")
	fs.Duration("watchdog-timeout", 60*time.Second, "watchdog heartbeat timeout")
	fs.Bool("no-watchdog", false, "disable the watchdog entirely")
	fs.Bool("no-inject-mcp", false, "do not inject the overlay MCP config")
	fs.Bool("keep-root", false, "do not drop privileges after namespace setup")
	fs.String("ipc-dir", "/tmp", "directory for signal/overlay/netmon/state files")
	fs.String("agentspec-file", "", "YAML file overriding the built-in AgentSpec table")
	fs.String("admin-addr", "", "bind address for the localhost admin HTTP/WS surface (empty disables it)")
	fs.String("audit-db", "", "path to the SQLite restart/run history database (empty disables it)")
	fs.Int("max-background-agents", 4, "maximum number of concurrently running background agents")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "console", "log format: console, json")

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
}

// Load resolves a Config from already-parsed flags/viper state plus the
// positional agent-name/args the caller extracted from argv.
func Load(v *viper.Viper, agentName string, agentArgs []string) Config {
	return Config{
		AgentName:           agentName,
		AgentArgs:           agentArgs,
		Netmon:              NetmonMode(v.GetString("netmon")),
		WatchdogTimeout:     v.GetDuration("watchdog-timeout"),
		NoWatchdog:          v.GetBool("no-watchdog"),
		NoInjectMCP:         v.GetBool("no-inject-mcp"),
		KeepRoot:            v.GetBool("keep-root"),
		IPCDir:              v.GetString("ipc-dir"),
		AgentSpecFile:       v.GetString("agentspec-file"),
		AdminAddr:           v.GetString("admin-addr"),
		AuditDBPath:         v.GetString("audit-db"),
		MaxBackgroundAgents: v.GetInt("max-background-agents"),
		LogLevel:            v.GetString("log-level"),
		LogFormat:           v.GetString("log-format"),
	}
}
