package grade

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	stylePass = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFail = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleSkip = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Log buffers the human-readable lines of one run and writes them to the
// sink in a single call per Flush, so concurrent runs sharing a sink never
// interleave within a task's output.
type Log struct {
	mu  sync.Mutex
	buf bytes.Buffer
	w   io.Writer
}

// NewLog creates a Log flushing to w. A nil w discards output.
func NewLog(w io.Writer) *Log {
	if w == nil {
		w = io.Discard
	}
	return &Log{w: w}
}

// Write buffers p.
func (l *Log) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// Printf buffers a formatted line.
func (l *Log) Printf(format string, args ...any) {
	fmt.Fprintf(l, format+"\n", args...)
}

// Result buffers the summary line of r.
func (l *Log) Result(r *Result) {
	var glyph string
	switch {
	case !r.Complete:
		glyph = styleSkip.Render("–")
	case r.Passing:
		glyph = stylePass.Render("✓")
	default:
		glyph = styleFail.Render("✗")
	}
	l.Printf("%s %s: %s", glyph, r.Name(), r)
}

// Flush writes everything buffered since the last Flush.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() == 0 {
		return nil
	}
	_, err := l.w.Write(l.buf.Bytes())
	l.buf.Reset()
	return err
}

// SyncWriter serializes writes from concurrent runs onto one sink.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
