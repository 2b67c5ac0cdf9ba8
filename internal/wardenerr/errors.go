// Package wardenerr defines the tagged error kinds used throughout warden,
// per the disposition table in spec.md §7.
package wardenerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the disposition category spec.md §7 assigns it.
type Kind int

const (
	// KindUnknown is the zero value; never constructed directly.
	KindUnknown Kind = iota
	KindConfiguration
	KindPrivilegeDrop
	KindSpawn
	KindSignalParse
	KindHookResolution
	KindNetmonWrite
	KindToolArgs
	KindProtocolFraming
	KindPoolFull
	KindLockConflict
	KindWatchdog
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPrivilegeDrop:
		return "privilege_drop"
	case KindSpawn:
		return "spawn"
	case KindSignalParse:
		return "signal_parse"
	case KindHookResolution:
		return "hook_resolution"
	case KindNetmonWrite:
		return "netmon_write"
	case KindToolArgs:
		return "tool_args"
	case KindProtocolFraming:
		return "protocol_framing"
	case KindPoolFull:
		return "pool_full"
	case KindLockConflict:
		return "lock_conflict"
	case KindWatchdog:
		return "watchdog"
	default:
		return "unknown"
	}
}

// Error is a tagged error: a Kind plus a human-actionable message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a tagged Error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindUnknown if err isn't a tagged Error.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindUnknown
}

// IsToolLevel reports whether err should surface as an MCP tool-level error
// result rather than a JSON-RPC protocol error, per spec.md §7's table.
func IsToolLevel(err error) bool {
	switch KindOf(err) {
	case KindToolArgs, KindPoolFull, KindLockConflict:
		return true
	default:
		return false
	}
}
