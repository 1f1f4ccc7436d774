package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/aristath/grader/internal/metrics"
)

// DefaultKillGrace bounds how long output is still collected after a child
// has been killed or has exited while grandchildren hold its pipes open.
const DefaultKillGrace = 250 * time.Millisecond

// Options configures a single Run.
type Options struct {
	// Stdin is fed to the program; nil leaves stdin connected to /dev/null.
	Stdin []byte
	// Timeout of zero or less means no limit.
	Timeout time.Duration
	Cwd     string
	// Env entries are appended to the current environment.
	Env []string
}

// RunnerConfig holds the collaborators of a Runner. Every field is optional.
type RunnerConfig struct {
	Logger    *zap.Logger
	Processes *Manager
	KillGrace time.Duration
	Metrics   *metrics.Metrics
}

// Runner spawns programs, enforces timeouts and records the outcome.
type Runner struct {
	logger  *zap.Logger
	procs   *Manager
	grace   time.Duration
	metrics *metrics.Metrics
}

// NewRunner creates a Runner from cfg.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		logger:  cfg.Logger,
		procs:   cfg.Processes,
		grace:   cfg.KillGrace,
		metrics: cfg.Metrics,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.procs == nil {
		r.procs = NewManager()
	}
	if r.grace <= 0 {
		r.grace = DefaultKillGrace
	}
	return r
}

// Processes returns the manager tracking this runner's children.
func (r *Runner) Processes() *Manager {
	return r.procs
}

var defaultRunner = NewRunner(RunnerConfig{})

// Run executes args with the default runner.
func Run(ctx context.Context, args []string, opts Options) *Runtime {
	return defaultRunner.Run(ctx, args, opts)
}

// Run executes args directly, without a shell, and waits for it to finish,
// time out or be cancelled through ctx. Failures are reported through the
// returned Runtime, never as a Go error.
func (r *Runner) Run(ctx context.Context, args []string, opts Options) *Runtime {
	rt := &Runtime{
		Args:    slices.Clone(args),
		Cwd:     opts.Cwd,
		Timeout: opts.Timeout,
		Stdin:   opts.Stdin,
	}
	if len(args) == 0 {
		rt.RaisedException = true
		rt.Exception = &Exception{Description: "no command given"}
		r.metrics.ObserveProcess("exception", nil)
		return rt
	}

	cmd := newCommand(args, opts.Cwd, opts.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}
	cmd.WaitDelay = r.grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		rt.RaisedException = true
		rt.Exception = spawnException(err)
		r.logger.Debug("process failed to start", zap.Strings("args", args), zap.Error(err))
		r.metrics.ObserveProcess("exception", nil)
		return rt
	}
	r.procs.Track(cmd)
	defer r.procs.Untrack(cmd)
	r.logger.Debug("process started", zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var expired <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	outcome := "exited"
	select {
	case err := <-done:
		elapsed := time.Since(start)
		rt.Elapsed = &elapsed
		if cmd.ProcessState == nil {
			rt.RaisedException = true
			rt.Exception = &Exception{Description: err.Error()}
			outcome = "exception"
			break
		}
		code := exitCode(cmd.ProcessState)
		rt.Code = &code
		if code < 0 {
			outcome = "signalled"
		}
	case <-expired:
		r.kill(cmd, "timeout")
		<-done
		rt.TimedOut = true
		outcome = "timeout"
	case <-ctx.Done():
		r.kill(cmd, "cancelled")
		<-done
		rt.RaisedException = true
		rt.Exception = &Exception{Description: "cancelled"}
		outcome = "cancelled"
	}
	rt.Stdout = stdout.Bytes()
	rt.Stderr = stderr.Bytes()
	r.metrics.ObserveProcess(outcome, rt.Elapsed)
	return rt
}

func (r *Runner) kill(cmd *exec.Cmd, reason string) {
	r.logger.Debug("killing process group",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("reason", reason))
	if err := killProcessGroup(cmd); err != nil {
		r.logger.Warn("kill failed", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
}

// exitCode returns the exit status, or the negated signal number when the
// process was terminated by a signal.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// spawnException classifies an error returned by exec.Cmd.Start.
func spawnException(err error) *Exception {
	e := &Exception{Description: "failed to run executable"}
	if errors.Is(err, unix.ENOEXEC) {
		e.Description = "executable format error"
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		n := int(errno)
		e.ErrorNumber = &n
	} else if errors.Is(err, exec.ErrNotFound) {
		n := int(unix.ENOENT)
		e.ErrorNumber = &n
	}
	return e
}
