// Package mcpconfig implements the overlay MCP config schema from
// spec.md §6: an object registering this program, invoked in --mcp-server
// mode, as an MCP server alongside whatever servers the agent's own
// .mcp.json already declares.
package mcpconfig

import "encoding/json"

// Server describes one entry under mcpServers.
type Server struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Config is the top-level overlay document.
type Config struct {
	MCPServers map[string]Server `json:"mcpServers"`
}

// New builds an overlay config containing only the injected warden server.
func New(brand, selfPath string) Config {
	return Config{
		MCPServers: map[string]Server{
			brand: {Command: selfPath, Args: []string{"--mcp-server"}},
		},
	}
}

// MergeExisting returns a new Config that is the union of cfg and whatever
// servers are present in an agent's pre-existing raw .mcp.json bytes. An
// empty/absent existing file is treated as having no servers. Parse
// failures in the existing file are ignored (the injected server still
// gets written); the original on-disk file is never mutated by this
// package — callers write the merged result to the overlay path only.
func MergeExisting(cfg Config, existingRaw []byte) Config {
	if len(existingRaw) == 0 {
		return cfg
	}
	var existing Config
	if err := json.Unmarshal(existingRaw, &existing); err != nil {
		return cfg
	}
	merged := Config{MCPServers: map[string]Server{}}
	for k, v := range existing.MCPServers {
		merged.MCPServers[k] = v
	}
	for k, v := range cfg.MCPServers {
		merged.MCPServers[k] = v
	}
	return merged
}

// Marshal renders the config as indented JSON for the overlay file.
func Marshal(cfg Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
