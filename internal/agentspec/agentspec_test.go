package agentspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltInCoversClosedVariantSet(t *testing.T) {
	tbl := BuiltIn()
	for _, name := range []string{"claude", "aider", "cursor"} {
		spec, ok := tbl.Lookup(name)
		require.True(t, ok, "missing built-in spec for %s", name)
		require.NotEmpty(t, spec.Executable)
	}
}

func TestLoadFileOverridesAndSupplements(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `
agents:
  - name: claude
    executable: claude
    supports_continue: true
    continue_flag: "--continue"
    auto_permission_flags: ["--dangerously-skip-permissions", "--extra-flag"]
  - name: custom-agent
    executable: custom-agent-bin
    supports_continue: false
    auto_permission_flags: []
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tbl, err := LoadFile(path)
	require.NoError(t, err)

	claude, ok := tbl.Lookup("claude")
	require.True(t, ok)
	require.Contains(t, claude.AutoPermissionFlags, "--extra-flag")

	custom, ok := tbl.Lookup("custom-agent")
	require.True(t, ok)
	require.Equal(t, "custom-agent-bin", custom.Executable)

	// Aider/cursor survive from the built-in defaults since the file didn't
	// mention them.
	_, ok = tbl.Lookup("aider")
	require.True(t, ok)
}

func TestLoadFileEmptyPathIsBuiltIn(t *testing.T) {
	tbl, err := LoadFile("")
	require.NoError(t, err)
	require.ElementsMatch(t, BuiltIn().Names(), tbl.Names())
}
