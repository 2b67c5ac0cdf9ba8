// Package privdrop drops root privileges to the invoking user before the
// agent is spawned, per spec.md §4.G's "Privilege drop" step: group first,
// then user, reading the numeric uid/gid from the launcher's environment
// hints (the same SUDO_UID/SUDO_GID convention sudo(8) sets, since that's
// the privilege-elevating launcher this program is actually run under).
package privdrop

import (
	"os"
	"strconv"
	"syscall"

	"github.com/wardenhq/warden/internal/wardenerr"
)

// Needed reports whether the current process is running as root and would
// need to drop privileges before exec'ing the agent.
func Needed() bool {
	return os.Geteuid() == 0
}

// Drop reads SUDO_UID/SUDO_GID from the environment and drops the
// process's group then user to those ids. It is an error to call this
// when the hints are absent; that failure is fatal per spec.md §7's
// disposition table.
func Drop() error {
	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return wardenerr.New(wardenerr.KindPrivilegeDrop, "running as root with no SUDO_UID/SUDO_GID hint to drop to")
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return wardenerr.Wrap(wardenerr.KindPrivilegeDrop, "malformed SUDO_GID", err)
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return wardenerr.Wrap(wardenerr.KindPrivilegeDrop, "malformed SUDO_UID", err)
	}

	// Group before user: once the uid is dropped, the process no longer
	// has permission to change its gid.
	if err := syscall.Setgid(gid); err != nil {
		return wardenerr.Wrap(wardenerr.KindPrivilegeDrop, "setgid failed", err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return wardenerr.Wrap(wardenerr.KindPrivilegeDrop, "setuid failed", err)
	}
	return nil
}
