package wardenerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindSpawn, "failed to start child", cause)

	var wrapped error = err
	require.Equal(t, KindSpawn, KindOf(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestKindOfReturnsUnknownForPlainError(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsToolLevelPartitionsKinds(t *testing.T) {
	toolLevel := []Kind{KindToolArgs, KindPoolFull, KindLockConflict}
	for _, k := range toolLevel {
		require.True(t, IsToolLevel(New(k, "x")), "%s should be tool-level", k)
	}

	protocolLevel := []Kind{KindConfiguration, KindPrivilegeDrop, KindSpawn, KindSignalParse, KindHookResolution, KindNetmonWrite, KindProtocolFraming, KindWatchdog}
	for _, k := range protocolLevel {
		require.False(t, IsToolLevel(New(k, "x")), "%s should not be tool-level", k)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindNetmonWrite, "write failed", errors.New("disk full"))
	require.Contains(t, err.Error(), "disk full")
	require.Contains(t, err.Error(), "write failed")
}
