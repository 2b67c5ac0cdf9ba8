package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	Flags(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg := Load(v, "claude", nil)
	require.Equal(t, "claude", cfg.AgentName)
	require.Equal(t, 60*time.Second, cfg.WatchdogTimeout)
	require.Equal(t, "/tmp", cfg.IPCDir)
	require.Equal(t, 4, cfg.MaxBackgroundAgents)
	require.Equal(t, NetmonOff, cfg.Netmon)
	require.False(t, cfg.KeepRoot)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("WARDEN_MAX_BACKGROUND_AGENTS", "9")
	t.Setenv("WARDEN_NETMON", "preload")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	Flags(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg := Load(v, "claude", nil)
	require.Equal(t, 9, cfg.MaxBackgroundAgents)
	require.Equal(t, NetmonPreload, cfg.Netmon)
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("WARDEN_MAX_BACKGROUND_AGENTS", "9")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	Flags(fs, v)
	require.NoError(t, fs.Parse([]string{"--max-background-agents=2"}))

	cfg := Load(v, "claude", nil)
	require.Equal(t, 2, cfg.MaxBackgroundAgents)
}
