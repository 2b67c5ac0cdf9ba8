package sharedstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	p := NewPublisher(path)

	st := State{}
	st.Session.WrapperPID = 1234
	st.Session.RestartCount = 2

	require.NoError(t, p.PublishNow(st))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 1234, got.Session.WrapperPID)
	require.Equal(t, 2, got.Session.RestartCount)
}

func TestPublishIsRateLimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	p := NewPublisher(path)

	require.NoError(t, p.PublishNow(State{}))

	st := State{}
	st.Session.RestartCount = 99
	require.NoError(t, p.Publish(st)) // dropped: within the rate-limit window

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 0, got.Session.RestartCount)
}

func TestReadMissingFileErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
