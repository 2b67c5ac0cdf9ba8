// Package agentspec defines the AgentSpec data model (spec.md §3) for the
// closed variant set of wrapped agents {Claude, Aider, Cursor} and loads the
// per-agent flag table from an external YAML file rather than hardcoding
// brand-specific flags in the core (spec.md §9's Open Question).
package agentspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentSpec is the static, immutable description of one supported agent.
type AgentSpec struct {
	Name                 string   `yaml:"name"`
	Executable           string   `yaml:"executable"`
	SupportsContinue     bool     `yaml:"supports_continue"`
	ContinueFlag         string   `yaml:"continue_flag"`
	AutoPermissionFlags  []string `yaml:"auto_permission_flags"`
}

// Table is the immutable set of AgentSpecs keyed by name, created once at
// startup from either a YAML file or the built-in defaults.
type Table struct {
	specs map[string]AgentSpec
}

type fileFormat struct {
	Agents []AgentSpec `yaml:"agents"`
}

// BuiltIn returns the default table covering the three named agents from
// spec.md §1 (Claude Code, Aider, Cursor). It exists so warden runs
// correctly with zero external configuration.
func BuiltIn() Table {
	return newTable([]AgentSpec{
		{
			Name:                "claude",
			Executable:          "claude",
			SupportsContinue:    true,
			ContinueFlag:        "--continue",
			AutoPermissionFlags: []string{"--dangerously-skip-permissions"},
		},
		{
			Name:                "aider",
			Executable:          "aider",
			SupportsContinue:    true,
			ContinueFlag:        "--restore-chat-history",
			AutoPermissionFlags: []string{"--yes-always"},
		},
		{
			Name:                "cursor",
			Executable:          "cursor-agent",
			SupportsContinue:    false,
			ContinueFlag:        "",
			AutoPermissionFlags: []string{"--force"},
		},
	})
}

func newTable(specs []AgentSpec) Table {
	t := Table{specs: make(map[string]AgentSpec, len(specs))}
	for _, s := range specs {
		t.specs[s.Name] = s
	}
	return t
}

// LoadFile reads a YAML AgentSpec table from path, falling back to
// BuiltIn() for any agent name not present in the file. An empty path
// returns BuiltIn() unchanged.
func LoadFile(path string) (Table, error) {
	base := BuiltIn()
	if path == "" {
		return base, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("agentspec: reading %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return Table{}, fmt.Errorf("agentspec: parsing %s: %w", path, err)
	}

	for _, s := range ff.Agents {
		base.specs[s.Name] = s
	}
	return base, nil
}

// Lookup returns the AgentSpec for name.
func (t Table) Lookup(name string) (AgentSpec, bool) {
	s, ok := t.specs[name]
	return s, ok
}

// Names returns every configured agent name.
func (t Table) Names() []string {
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	return names
}
