// Package process runs external programs for grading tasks and records how
// they behaved.
package process

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Exception describes a failure to run a program at all.
type Exception struct {
	Description string `json:"description"`
	ErrorNumber *int   `json:"error_number"`
}

func (e *Exception) Error() string {
	if e.ErrorNumber != nil {
		return fmt.Sprintf("%s (errno %d)", e.Description, *e.ErrorNumber)
	}
	return e.Description
}

// Runtime records a single invocation of an external program. It is not
// modified after Run or Close returns it.
type Runtime struct {
	Args    []string
	Cwd     string
	Timeout time.Duration

	// Code is the exit status, or the negated signal number when the
	// program was killed by a signal. Nil on timeout or spawn failure.
	Code *int
	// Elapsed is nil when the program timed out or never started.
	Elapsed *time.Duration

	Stdin  []byte
	Stdout []byte
	Stderr []byte

	TimedOut        bool
	RaisedException bool
	Exception       *Exception
}

// Succeeded reports whether the program ran to completion with status 0.
func (r *Runtime) Succeeded() bool {
	return !r.TimedOut && !r.RaisedException && r.Code != nil && *r.Code == 0
}

// Signal returns the signal that terminated the program, or 0.
func (r *Runtime) Signal() unix.Signal {
	if r.Code == nil || *r.Code >= 0 {
		return 0
	}
	return unix.Signal(-*r.Code)
}

var signalDescriptions = map[unix.Signal]string{
	unix.SIGSEGV: "segmentation fault",
	unix.SIGABRT: "aborted",
	unix.SIGFPE:  "floating point exception",
	unix.SIGKILL: "killed",
	unix.SIGBUS:  "bus error",
	unix.SIGILL:  "illegal instruction",
}

// Describe summarizes the outcome in a form suitable for a failing result.
func (r *Runtime) Describe() string {
	switch {
	case r.TimedOut:
		return "timed out after " + formatSeconds(r.Timeout)
	case r.RaisedException && r.Exception != nil:
		return r.Exception.Description
	case r.Code == nil:
		return "did not run"
	}
	if sig := r.Signal(); sig != 0 {
		name, ok := signalDescriptions[sig]
		if !ok {
			name = strings.ToLower(strings.TrimPrefix(unix.SignalName(sig), "SIG"))
		}
		return fmt.Sprintf("%s (signal %d)", name, int(sig))
	}
	return fmt.Sprintf("exited with code %d", *r.Code)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}

type runtimeDump struct {
	Args            []string   `json:"args"`
	Cwd             *string    `json:"cwd"`
	Code            *int       `json:"code"`
	Elapsed         *float64   `json:"elapsed"`
	Stdin           *string    `json:"stdin"`
	Stdout          *string    `json:"stdout"`
	Stderr          *string    `json:"stderr"`
	Timeout         *float64   `json:"timeout"`
	TimedOut        bool       `json:"timed_out"`
	RaisedException bool       `json:"raised_exception"`
	Exception       *Exception `json:"exception"`
}

// MarshalJSON dumps the runtime with streams decoded lossily as UTF-8 and
// durations in seconds.
func (r *Runtime) MarshalJSON() ([]byte, error) {
	d := runtimeDump{
		Args:            r.Args,
		Code:            r.Code,
		Stdin:           lossy(r.Stdin),
		Stdout:          lossy(r.Stdout),
		Stderr:          lossy(r.Stderr),
		TimedOut:        r.TimedOut,
		RaisedException: r.RaisedException,
		Exception:       r.Exception,
	}
	if d.Args == nil {
		d.Args = []string{}
	}
	if r.Cwd != "" {
		d.Cwd = &r.Cwd
	}
	if r.Elapsed != nil {
		s := r.Elapsed.Seconds()
		d.Elapsed = &s
	}
	if r.Timeout > 0 {
		s := r.Timeout.Seconds()
		d.Timeout = &s
	}
	return json.Marshal(d)
}

// UnmarshalJSON restores a runtime from its dump. Streams come back as the
// decoded text.
func (r *Runtime) UnmarshalJSON(data []byte) error {
	var d runtimeDump
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*r = Runtime{
		Args:            d.Args,
		Code:            d.Code,
		TimedOut:        d.TimedOut,
		RaisedException: d.RaisedException,
		Exception:       d.Exception,
	}
	if d.Cwd != nil {
		r.Cwd = *d.Cwd
	}
	if d.Elapsed != nil {
		e := seconds(*d.Elapsed)
		r.Elapsed = &e
	}
	if d.Timeout != nil {
		r.Timeout = seconds(*d.Timeout)
	}
	if d.Stdin != nil {
		r.Stdin = []byte(*d.Stdin)
	}
	if d.Stdout != nil {
		r.Stdout = []byte(*d.Stdout)
	}
	if d.Stderr != nil {
		r.Stderr = []byte(*d.Stderr)
	}
	return nil
}

func lossy(b []byte) *string {
	if b == nil {
		return nil
	}
	s := strings.ToValidUTF8(string(b), "�")
	return &s
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
