// Package termtail keeps a bounded, ANSI-resolved tail of a pooled
// BackgroundAgent's stdout/stderr by feeding raw bytes through a small
// vt10x virtual terminal, so stdout_tail/stderr_tail (spec.md §3) read as
// plain text instead of raw escape sequences.
package termtail

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// Tail is a fixed-width virtual terminal plus a bounded ring of resolved
// lines. Safe for concurrent Write/Lines calls from the pool's monitor
// goroutine and MCP tool handlers.
type Tail struct {
	mu      sync.Mutex
	term    vt10x.Terminal
	maxRows int
}

// New creates a Tail that keeps at most maxLines most-recent terminal rows,
// emulating a cols x rows screen wide enough for typical CLI output.
func New(maxLines int) *Tail {
	const cols = 220
	return &Tail{
		term:    vt10x.New(vt10x.WithSize(cols, maxLines)),
		maxRows: maxLines,
	}
}

// Write feeds raw child output (which may contain ANSI escapes) into the
// virtual terminal.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.term.Write(p)
}

// Lines returns the current screen content as plain-text lines, trailing
// blank lines trimmed.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cols, rows := t.term.Size()
	lines := make([]string, 0, rows)
	for y := 0; y < rows; y++ {
		var b strings.Builder
		for x := 0; x < cols; x++ {
			g := t.term.Cell(x, y)
			ch := g.Char
			if ch == 0 {
				ch = ' '
			}
			b.WriteRune(ch)
		}
		lines = append(lines, strings.TrimRight(b.String(), " "))
	}

	// Trim trailing blank rows so short-lived commands don't report a
	// screenful of empty lines.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// String joins Lines with newlines, for embedding directly into a tool result.
func (t *Tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
