package process

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// TestRun_CapturesOutputAndExitCode verifies stdout, stderr and the exit status are recorded
func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	rt := Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, Options{})

	if rt.Code == nil || *rt.Code != 3 {
		t.Fatalf("Expected exit code 3, got %v", rt.Code)
	}
	if string(rt.Stdout) != "out\n" {
		t.Errorf("Expected stdout 'out\\n', got %q", rt.Stdout)
	}
	if string(rt.Stderr) != "err\n" {
		t.Errorf("Expected stderr 'err\\n', got %q", rt.Stderr)
	}
	if rt.Elapsed == nil {
		t.Error("Expected elapsed time to be recorded")
	}
	if rt.Succeeded() {
		t.Error("Expected non-zero exit not to count as success")
	}
	if got := rt.Describe(); got != "exited with code 3" {
		t.Errorf("Expected description 'exited with code 3', got %q", got)
	}
}

// TestRun_FeedsStdin verifies stdin bytes reach the program
func TestRun_FeedsStdin(t *testing.T) {
	rt := Run(context.Background(), []string{"cat"}, Options{Stdin: []byte("hello\nworld\n")})

	if !rt.Succeeded() {
		t.Fatalf("Expected cat to succeed, got %s", rt.Describe())
	}
	if string(rt.Stdout) != "hello\nworld\n" {
		t.Errorf("Expected stdin echoed back, got %q", rt.Stdout)
	}
}

// TestRun_WorkingDirectory verifies the program runs in Cwd
func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	rt := Run(context.Background(), []string{"pwd"}, Options{Cwd: dir})

	got := strings.TrimSpace(string(rt.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if resolved, _ := filepath.EvalSymlinks(got); resolved != want {
		t.Errorf("Expected cwd %s, got %s", want, got)
	}
}

// TestRun_Timeout verifies a hung program is killed and reported as timed out
func TestRun_Timeout(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	runner := NewRunner(RunnerConfig{})

	start := time.Now()
	rt := runner.Run(context.Background(),
		[]string{"sh", "-c", "echo $$ > " + pidFile + "; echo partial; exec sleep 30"},
		Options{Timeout: 200 * time.Millisecond})
	duration := time.Since(start)

	if !rt.TimedOut {
		t.Fatalf("Expected TimedOut, got %+v", rt)
	}
	if rt.Code != nil {
		t.Errorf("Expected nil code on timeout, got %d", *rt.Code)
	}
	if rt.Elapsed != nil {
		t.Errorf("Expected nil elapsed on timeout, got %v", *rt.Elapsed)
	}
	if duration > 200*time.Millisecond+2*time.Second {
		t.Errorf("Run took too long after timeout: %v", duration)
	}
	if string(rt.Stdout) != "partial\n" {
		t.Errorf("Expected partial output to be recovered, got %q", rt.Stdout)
	}
	if got := rt.Describe(); got != "timed out after 0.2s" {
		t.Errorf("Expected timeout description, got %q", got)
	}
	if runner.Processes().Count() != 0 {
		t.Errorf("Expected no tracked processes, got %d", runner.Processes().Count())
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("Failed to read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("Invalid pid %q: %v", data, err)
	}
	if err := unix.Kill(pid, 0); err != unix.ESRCH {
		t.Errorf("Expected child %d to be gone, kill(0) returned %v", pid, err)
	}
}

// TestRun_Signal verifies death by signal is reported as a negative code
func TestRun_Signal(t *testing.T) {
	rt := Run(context.Background(), []string{"sh", "-c", "kill -SEGV $$"}, Options{})

	if rt.Code == nil || *rt.Code != -11 {
		t.Fatalf("Expected code -11, got %v", rt.Code)
	}
	if rt.Signal() != unix.SIGSEGV {
		t.Errorf("Expected SIGSEGV, got %v", rt.Signal())
	}
	if got := rt.Describe(); got != "segmentation fault (signal 11)" {
		t.Errorf("Expected segfault description, got %q", got)
	}
}

// TestRun_SpawnFailures verifies spawn errors are classified instead of returned
func TestRun_SpawnFailures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte{0x00, 0x01, 0x02, 'n', 'o', 'p', 'e'}, 0755); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	tests := []struct {
		name        string
		args        []string
		description string
		errno       int
	}{
		{"exec format", []string{garbage}, "executable format error", int(unix.ENOEXEC)},
		{"missing", []string{filepath.Join(dir, "missing")}, "failed to run executable", int(unix.ENOENT)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := Run(context.Background(), tt.args, Options{})
			if !rt.RaisedException || rt.Exception == nil {
				t.Fatalf("Expected raised exception, got %+v", rt)
			}
			if rt.Exception.Description != tt.description {
				t.Errorf("Expected %q, got %q", tt.description, rt.Exception.Description)
			}
			if rt.Exception.ErrorNumber == nil || *rt.Exception.ErrorNumber != tt.errno {
				t.Errorf("Expected errno %d, got %v", tt.errno, rt.Exception.ErrorNumber)
			}
			if rt.Code != nil {
				t.Errorf("Expected nil code, got %d", *rt.Code)
			}
		})
	}
}

// TestRun_ContextCancellation verifies cancellation kills the child and records why
func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	rt := Run(ctx, []string{"sleep", "30"}, Options{})

	if !rt.RaisedException || rt.Exception == nil || rt.Exception.Description != "cancelled" {
		t.Fatalf("Expected cancelled exception, got %+v", rt)
	}
	if rt.TimedOut {
		t.Error("Expected cancellation not to count as a timeout")
	}
}

// TestRuntime_MarshalJSON verifies the dump format
func TestRuntime_MarshalJSON(t *testing.T) {
	code := 0
	elapsed := 1500 * time.Millisecond
	rt := &Runtime{
		Args:    []string{"./a.out"},
		Code:    &code,
		Elapsed: &elapsed,
		Stdout:  []byte{'o', 'k', 0xff},
	}

	data, err := json.Marshal(rt)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var dump map[string]any
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"args", "cwd", "code", "elapsed", "stdin", "stdout", "stderr",
		"timeout", "timed_out", "raised_exception", "exception"} {
		if _, ok := dump[key]; !ok {
			t.Errorf("Expected key %q in dump", key)
		}
	}
	if dump["elapsed"] != 1.5 {
		t.Errorf("Expected elapsed 1.5, got %v", dump["elapsed"])
	}
	if dump["stdout"] != "ok�" {
		t.Errorf("Expected lossy stdout, got %q", dump["stdout"])
	}
	if dump["cwd"] != nil || dump["stdin"] != nil || dump["timeout"] != nil || dump["exception"] != nil {
		t.Errorf("Expected unset fields to be null, got %s", data)
	}

	var back Runtime
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal into Runtime failed: %v", err)
	}
	if back.Elapsed == nil || *back.Elapsed != elapsed {
		t.Errorf("Expected elapsed %v after round trip, got %v", elapsed, back.Elapsed)
	}
}

// TestManager_TrackAndKillAll verifies tracked children are killed on shutdown
func TestManager_TrackAndKillAll(t *testing.T) {
	pm := NewManager()
	runner := NewRunner(RunnerConfig{Processes: pm})

	done := make(chan *Runtime, 1)
	go func() {
		done <- runner.Run(context.Background(), []string{"sleep", "30"}, Options{})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Fatalf("Expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll failed: %v", err)
	}

	select {
	case rt := <-done:
		if rt.Signal() != unix.SIGKILL {
			t.Errorf("Expected SIGKILL, got code %v", rt.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after KillAll")
	}

	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after exit, got %d", pm.Count())
	}
}
