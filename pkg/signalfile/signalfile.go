// Package signalfile implements the one-shot file-based IPC rendezvous
// described in spec.md §3 (SignalRequest) and §4.B: the MCP server process
// writes a small JSON payload, the wrapper polls for it, reads it, and
// unlinks it. Presence of the file means "unprocessed request".
package signalfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Kind is one of the enumerated SignalRequest kinds.
type Kind string

const (
	Restart            Kind = "restart"
	Heartbeat          Kind = "heartbeat"
	WatchdogPing       Kind = "watchdog_ping"
	WatchdogDisable    Kind = "watchdog_disable"
	// WatchdogConfigure is not in spec.md §3's literal kind enumeration but
	// is required by §4.D ("watchdog_configure ... all delivered via
	// SignalRequest"); it extends the kind set the same way watchdog_ping
	// and watchdog_disable do.
	WatchdogConfigure Kind = "watchdog_configure"
)

// Request is the SignalRequest payload from spec.md §3, extended with the
// fields watchdog_configure needs to carry.
type Request struct {
	Kind         Kind    `json:"kind"`
	Reason       string  `json:"reason,omitempty"`
	Prompt       string  `json:"prompt,omitempty"`
	DurationSecs *int64  `json:"duration_secs,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	LockupAction string  `json:"lockup_action,omitempty"`
	MaxMemoryMB  *int64  `json:"max_memory_mb,omitempty"`
}

// Path returns the rendezvous file path for a given brand and wrapper pid,
// per spec.md §6's template `<dir>/<brand>-<wrapper-pid>`.
func Path(dir, brand string, wrapperPID int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d", brand, wrapperPID))
}

// Write atomically publishes req at path: write to a temp file in the same
// directory, then rename, so a concurrent poller never observes a partial
// write. If a second Write races this one, the later rename wins — which
// spec.md §4.B/§5 calls out as acceptable because every request kind is
// idempotent or monotone.
func Write(path string, req Request) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".signalfile-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	b, err := json.Marshal(req)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadAndConsume reads path (if present), parses it, and unlinks it,
// guaranteeing exactly-once processing under the assumption that only one
// wrapper polls its own pid-derived path. Returns (nil, nil) when no
// request is pending.
func ReadAndConsume(path string) (*Request, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	// Unlink first: presence of the file is the "unprocessed" signal, so we
	// clear it as soon as we've read the bytes, even if parsing fails below.
	_ = os.Remove(path)

	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
