package termtail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteResolvesPlainText(t *testing.T) {
	tail := New(24)
	_, err := tail.Write([]byte("hello world\r\n"))
	require.NoError(t, err)

	lines := tail.Lines()
	require.NotEmpty(t, lines)
	require.Equal(t, "hello world", lines[0])
}

func TestWriteStripsANSIEscapes(t *testing.T) {
	tail := New(24)
	_, err := tail.Write([]byte("\x1b[31mred text\x1b[0m\r\n"))
	require.NoError(t, err)

	out := tail.String()
	require.Contains(t, out, "red text")
	require.False(t, strings.Contains(out, "\x1b"))
}

func TestLinesTrimsTrailingBlankRows(t *testing.T) {
	tail := New(24)
	_, err := tail.Write([]byte("only line\r\n"))
	require.NoError(t, err)

	lines := tail.Lines()
	require.Len(t, lines, 1)
}
