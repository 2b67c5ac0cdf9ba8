package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := New(Config{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	l.Info("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
	require.Contains(t, string(b), `"k":"v"`)
}

func TestNewRejectsUnwritablePath(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "json", OutputPath: filepath.Join(t.TempDir(), "missing-dir", "out.log")})
	require.Error(t, err)
}

func TestWithContextAddsCorrelationID(t *testing.T) {
	l, err := New(Config{Level: "info", Format: "console", OutputPath: filepath.Join(t.TempDir(), "out.log")})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "abc-123")
	derived := l.WithContext(ctx)
	require.NotNil(t, derived)
	require.Len(t, derived.fields, 1)
	require.Equal(t, "correlation_id", derived.fields[0].Key)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	l, err := New(Config{Level: "info", Format: "console", OutputPath: filepath.Join(t.TempDir(), "out.log")})
	require.NoError(t, err)

	child := l.WithFields(zap.String("component", "test"))
	require.Len(t, child.fields, 1)
	require.Len(t, l.fields, 0)
}
