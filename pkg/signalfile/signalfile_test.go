package signalfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadConsumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "warden", 12345)

	req := Request{Kind: Restart, Reason: "manual"}
	require.NoError(t, Write(path, req))

	got, err := ReadAndConsume(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, req, *got)

	// Unlinked after consumption: invariant 5 in spec.md §8.
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestReadAndConsumeAbsentIsNilNil(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "warden", 1)
	got, err := ReadAndConsume(path)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWriteLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "warden", 7)

	require.NoError(t, Write(path, Request{Kind: Heartbeat}))
	require.NoError(t, Write(path, Request{Kind: Restart, Reason: "second"}))

	got, err := ReadAndConsume(path)
	require.NoError(t, err)
	require.Equal(t, Restart, got.Kind)
	require.Equal(t, "second", got.Reason)
}

func TestPathTemplate(t *testing.T) {
	got := Path("/tmp", "warden", 42)
	require.Equal(t, filepath.Join("/tmp", "warden-42"), got)
}
