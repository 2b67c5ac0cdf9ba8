package mcpconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeExistingUnionsServers(t *testing.T) {
	cfg := New("warden", "/usr/local/bin/warden")
	existing := []byte(`{"mcpServers":{"other":{"command":"other-server","args":["--flag"]}}}`)

	merged := MergeExisting(cfg, existing)
	require.Len(t, merged.MCPServers, 2)
	require.Equal(t, "other-server", merged.MCPServers["other"].Command)
	require.Equal(t, "/usr/local/bin/warden", merged.MCPServers["warden"].Command)
}

func TestMergeExistingOverridesSameKey(t *testing.T) {
	cfg := New("warden", "/usr/local/bin/warden")
	existing := []byte(`{"mcpServers":{"warden":{"command":"stale","args":[]}}}`)

	merged := MergeExisting(cfg, existing)
	require.Equal(t, "/usr/local/bin/warden", merged.MCPServers["warden"].Command)
}

func TestMergeExistingHandlesEmptyAndMalformed(t *testing.T) {
	cfg := New("warden", "/bin/warden")

	require.Equal(t, cfg, MergeExisting(cfg, nil))
	require.Equal(t, cfg, MergeExisting(cfg, []byte("not json")))
}

func TestMarshalProducesIndentedJSON(t *testing.T) {
	cfg := New("warden", "/bin/warden")
	b, err := Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(b), "\n  ")
}
