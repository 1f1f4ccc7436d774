package process

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestInteractive_Conversation verifies line-by-line exchange over pipes
func TestInteractive_Conversation(t *testing.T) {
	runner := NewRunner(RunnerConfig{})
	p, err := runner.Start([]string{"sh", "-c", `while read line; do echo "got $line"; done`}, InteractiveOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := p.WriteLine("one"); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}
	out, err := p.Stdout().Read(Line(), 2*time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(out) != "got one\n" {
		t.Errorf("Expected 'got one\\n', got %q", out)
	}

	rec, err := p.Record(200*time.Millisecond, func() error {
		return p.WriteLine("two")
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if string(rec.Stdout) != "got two\n" {
		t.Errorf("Expected recording 'got two\\n', got %q", rec.Stdout)
	}

	rt := p.Close(2 * time.Second)
	if !rt.Succeeded() {
		t.Fatalf("Expected clean exit, got %s", rt.Describe())
	}
	if string(rt.Stdin) != "one\ntwo\n" {
		t.Errorf("Expected stdin transcript, got %q", rt.Stdin)
	}
	if string(rt.Stdout) != "got one\ngot two\n" {
		t.Errorf("Expected full stdout, got %q", rt.Stdout)
	}
	if again := p.Close(time.Second); again != rt {
		t.Error("Expected Close to be idempotent")
	}
	if err := p.WriteLine("three"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

// TestStream_ReadTimeout verifies Read gives up when the condition never holds
func TestStream_ReadTimeout(t *testing.T) {
	s := &Stream{}
	s.Write([]byte("partial"))

	start := time.Now()
	_, err := s.Read(Line(), 150*time.Millisecond)
	if !errors.Is(err, ErrStreamTimeout) {
		t.Fatalf("Expected ErrStreamTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read overran its timeout: %v", elapsed)
	}

	// Nothing was consumed by the failed read.
	if got := string(s.Peek()); got != "partial" {
		t.Errorf("Expected unread 'partial', got %q", got)
	}

	got, err := s.Read(nil, 0)
	if err != nil || string(got) != "partial" {
		t.Errorf("Expected buffered output, got %q, %v", got, err)
	}
	if rest := s.Peek(); len(rest) != 0 {
		t.Errorf("Expected buffer drained, got %q", rest)
	}
}

// TestStream_ReadClosed verifies Read stops early once the stream has ended
func TestStream_ReadClosed(t *testing.T) {
	s := &Stream{}
	s.close()

	start := time.Now()
	_, err := s.Read(Contains("never"), 5*time.Second)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Expected ErrStreamClosed, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected Read on a closed stream to return immediately")
	}
}

// TestInteractive_CloseTimeout verifies a program ignoring EOF is killed
func TestInteractive_CloseTimeout(t *testing.T) {
	runner := NewRunner(RunnerConfig{})
	p, err := runner.Start([]string{"sh", "-c", "trap '' HUP; exec sleep 30"}, InteractiveOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rt := p.Close(100 * time.Millisecond)
	if !rt.TimedOut {
		t.Fatalf("Expected TimedOut, got %s", rt.Describe())
	}
	if rt.Code != nil {
		t.Errorf("Expected nil code, got %d", *rt.Code)
	}
}

// TestInteractive_PTY verifies the terminal mode delivers output without echo
func TestInteractive_PTY(t *testing.T) {
	runner := NewRunner(RunnerConfig{})
	p, err := runner.Start([]string{"sh", "-c", `read line; echo "hi $line"`}, InteractiveOptions{PTY: true})
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}

	if err := p.WriteLine("there"); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}
	out, err := p.Stdout().Read(Contains("hi there\n"), 2*time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v (buffered %q)", err, p.Stdout().Peek())
	}
	if strings.Contains(string(out), "there\nhi") {
		t.Errorf("Expected no echo of input, got %q", out)
	}

	rt := p.Close(2 * time.Second)
	if !rt.Succeeded() {
		t.Errorf("Expected clean exit, got %s", rt.Describe())
	}
}

// TestStart_SpawnFailure verifies Start returns a classified exception
func TestStart_SpawnFailure(t *testing.T) {
	_, err := NewRunner(RunnerConfig{}).Start([]string{"/nonexistent/program"}, InteractiveOptions{})

	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("Expected *Exception, got %v", err)
	}
	if exc.Description != "failed to run executable" {
		t.Errorf("Expected spawn failure description, got %q", exc.Description)
	}
}
