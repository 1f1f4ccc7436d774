package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned when writing to an interactive program after Close.
var ErrClosed = errors.New("interactive process closed")

// InteractiveOptions configures Start.
type InteractiveOptions struct {
	Cwd string
	Env []string
	// PTY connects stdin and stdout to a pseudo-terminal so that the C
	// runtime line-buffers output. Stderr stays a pipe.
	PTY bool
}

// Recording is the output produced during one Interactive.Record call.
type Recording struct {
	Stdout []byte
	Stderr []byte
}

// Interactive is a running program driven step by step.
type Interactive struct {
	runner *Runner
	cmd    *exec.Cmd
	args   []string
	cwd    string
	start  time.Time

	stdin  io.WriteCloser
	stdout *Stream
	stderr *Stream
	ptmx   *os.File

	wmu     sync.Mutex
	written bytes.Buffer
	closed  bool

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	rt        *Runtime
}

// Start launches args and returns immediately. Unlike Run, a spawn failure
// is returned as an *Exception error.
func (r *Runner) Start(args []string, opts InteractiveOptions) (*Interactive, error) {
	if len(args) == 0 {
		return nil, &Exception{Description: "no command given"}
	}
	p := &Interactive{
		runner: r,
		args:   slices.Clone(args),
		cwd:    opts.Cwd,
		stdout: &Stream{},
		stderr: &Stream{},
		done:   make(chan struct{}),
	}
	p.cmd = newCommand(args, opts.Cwd, opts.Env)
	p.cmd.Stderr = p.stderr
	p.cmd.WaitDelay = r.grace

	var copied chan struct{}
	if opts.PTY {
		ptmx, err := p.attachTerminal()
		if err != nil {
			return nil, err
		}
		p.ptmx = ptmx
		p.stdin = ptmx
		copied = make(chan struct{})
		go func() {
			defer close(copied)
			// Reading the master fails with EIO once the child side closes.
			_, _ = io.Copy(p.stdout, ptmx)
		}()
	} else {
		p.cmd.Stdout = p.stdout
		stdin, err := p.cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		p.stdin = stdin
		p.start = time.Now()
		if err := p.cmd.Start(); err != nil {
			r.metrics.ObserveProcess("exception", nil)
			return nil, spawnException(err)
		}
	}
	r.procs.Track(p.cmd)
	r.logger.Debug("interactive process started",
		zap.Strings("args", args),
		zap.Int("pid", p.cmd.Process.Pid),
		zap.Bool("pty", opts.PTY))

	go func() {
		p.waitErr = p.cmd.Wait()
		if copied != nil {
			select {
			case <-copied:
			case <-time.After(r.grace):
			}
			p.ptmx.Close()
		}
		r.procs.Untrack(p.cmd)
		p.stdout.close()
		p.stderr.close()
		close(p.done)
	}()
	return p, nil
}

// attachTerminal opens a pseudo-terminal, turns off echo and output
// post-processing, and starts the command as the session leader on it.
func (p *Interactive) attachTerminal() (*os.File, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		ptmx.Close()
		return nil, fmt.Errorf("failed to read terminal attributes: %w", err)
	}
	t.Lflag &^= unix.ECHO
	t.Oflag &^= unix.ONLCR
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		ptmx.Close()
		return nil, fmt.Errorf("failed to set terminal attributes: %w", err)
	}

	p.cmd.Stdin = tty
	p.cmd.Stdout = tty
	// A session leader cannot also request a new process group; its
	// session id doubles as the group id for killProcessGroup.
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	p.start = time.Now()
	if err := p.cmd.Start(); err != nil {
		ptmx.Close()
		p.runner.metrics.ObserveProcess("exception", nil)
		return nil, spawnException(err)
	}
	return ptmx, nil
}

// Stdout returns the program's standard output stream.
func (p *Interactive) Stdout() *Stream { return p.stdout }

// Stderr returns the program's standard error stream.
func (p *Interactive) Stderr() *Stream { return p.stderr }

// Done is closed once the program has exited and its output is drained.
func (p *Interactive) Done() <-chan struct{} { return p.done }

// Write sends b to the program's stdin.
func (p *Interactive) Write(b []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.written.Write(b)
	if _, err := p.stdin.Write(b); err != nil {
		return fmt.Errorf("failed to write stdin: %w", err)
	}
	return nil
}

// WriteLine sends line followed by a newline.
func (p *Interactive) WriteLine(line string) error {
	return p.Write([]byte(line + "\n"))
}

// Record runs fn, waits settle for the program to react, and returns only
// the output produced in that window. The unread cursors of the streams are
// left untouched.
func (p *Interactive) Record(settle time.Duration, fn func() error) (Recording, error) {
	outMark, errMark := p.stdout.mark(), p.stderr.mark()
	if fn != nil {
		if err := fn(); err != nil {
			return Recording{}, err
		}
	}
	if settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
		}
	}
	return Recording{
		Stdout: p.stdout.since(outMark),
		Stderr: p.stderr.since(errMark),
	}, nil
}

// Close ends stdin and waits up to timeout for the program to exit before
// killing it. Repeated calls return the same Runtime.
func (p *Interactive) Close(timeout time.Duration) *Runtime {
	p.closeOnce.Do(func() {
		p.closeStdin()

		rt := &Runtime{Args: p.args, Cwd: p.cwd, Timeout: timeout}
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		outcome := "exited"
		select {
		case <-p.done:
			elapsed := time.Since(p.start)
			rt.Elapsed = &elapsed
			if p.cmd.ProcessState != nil {
				code := exitCode(p.cmd.ProcessState)
				rt.Code = &code
				if code < 0 {
					outcome = "signalled"
				}
			} else if p.waitErr != nil {
				rt.RaisedException = true
				rt.Exception = &Exception{Description: p.waitErr.Error()}
				outcome = "exception"
			}
		case <-expired:
			p.runner.kill(p.cmd, "timeout")
			<-p.done
			rt.TimedOut = true
			outcome = "timeout"
		}

		p.wmu.Lock()
		rt.Stdin = bytes.Clone(p.written.Bytes())
		p.wmu.Unlock()
		rt.Stdout = p.stdout.Bytes()
		rt.Stderr = p.stderr.Bytes()
		p.runner.metrics.ObserveProcess(outcome, rt.Elapsed)
		p.rt = rt
	})
	return p.rt
}

// Kill terminates the program immediately.
func (p *Interactive) Kill() error {
	return killProcessGroup(p.cmd)
}

func (p *Interactive) closeStdin() {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.ptmx == nil {
		_ = p.stdin.Close()
		return
	}
	// The terminal stays open for reading; signal end of input with VEOF,
	// twice when a partial line would otherwise swallow the first one.
	eof := []byte{4}
	if b := p.written.Bytes(); len(b) > 0 && b[len(b)-1] != '\n' {
		eof = append(eof, 4)
	}
	_, _ = p.ptmx.Write(eof)
}
