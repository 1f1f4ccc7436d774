package builtin

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
)

// Lines splits output into lines after trimming surrounding whitespace.
// Trailing whitespace is also dropped from every line.
func Lines(output []byte) []string {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return []string{""}
	}
	lines := strings.Split(string(trimmed), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return lines
}

// LinesMatch reports whether a and b are equal line by line.
func LinesMatch(a, b []string) bool {
	return slices.Equal(a, b)
}

// runtimeFailure turns a run that did not exit normally into a failing
// result, or returns nil when it exited.
func runtimeFailure(details grade.Details, rt *process.Runtime) *grade.Result {
	if rt.TimedOut || rt.RaisedException || rt.Signal() != 0 || rt.Code == nil {
		return grade.Fail(details, &grade.Error{
			Description: rt.Describe(),
			Received:    string(rt.Stdout),
		})
	}
	return nil
}

// CompareStdout passes when the program's stdout matches any of the
// accepted outputs.
func CompareStdout(rt *process.Runtime, accepted ...string) *grade.Result {
	if failed := runtimeFailure(grade.CorrectnessDetails{Runtime: rt}, rt); failed != nil {
		return failed
	}
	out := Lines(rt.Stdout)
	for _, want := range accepted {
		if LinesMatch(out, Lines([]byte(want))) {
			return grade.Pass(grade.CorrectnessDetails{Runtime: rt})
		}
	}
	expected := make([]string, len(accepted))
	for i, want := range accepted {
		expected[i] = strings.Join(Lines([]byte(want)), "\n")
	}
	details := grade.CorrectnessDetails{Runtime: rt, Expected: expected}
	var first any
	if len(expected) > 0 {
		first = expected[0]
	}
	return grade.Fail(details, &grade.Error{
		Description: "incorrect output",
		Expected:    first,
		Received:    strings.Join(out, "\n"),
	})
}

// OutputOptions configures Output.
type OutputOptions struct {
	Executable string
	Args       []string
	Stdin      []byte
	// Expected lists the accepted outputs; any one of them passes.
	Expected []string
	Timeout  time.Duration
}

// Output returns a test running an executable and comparing its stdout.
func Output(opts OutputOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "compare the output of " + opts.Executable,
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			exe, missing := executable(a, opts.Executable)
			if missing != nil {
				return grade.Fail(grade.CorrectnessDetails{}, missing)
			}
			rt := exe.Execute(e.ctx, e.runner, opts.Args, process.Options{
				Stdin:   opts.Stdin,
				Timeout: e.testTimeout(opts.Timeout),
				Cwd:     e.context.ProblemPath,
			})
			return CompareStdout(rt, opts.Expected...)
		},
	}
}

// ExitOptions configures Exit.
type ExitOptions struct {
	Executable string
	Args       []string
	Stdin      []byte
	Code       int
	Timeout    time.Duration
}

// Exit returns a test passing when the executable exits with Code.
func Exit(opts ExitOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: fmt.Sprintf("check %s exits with %d", opts.Executable, opts.Code),
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			exe, missing := executable(a, opts.Executable)
			if missing != nil {
				return grade.Fail(grade.CorrectnessDetails{}, missing)
			}
			rt := exe.Execute(e.ctx, e.runner, opts.Args, process.Options{
				Stdin:   opts.Stdin,
				Timeout: e.testTimeout(opts.Timeout),
				Cwd:     e.context.ProblemPath,
			})
			details := grade.CorrectnessDetails{Runtime: rt}
			if failed := runtimeFailure(details, rt); failed != nil {
				return failed
			}
			if *rt.Code != opts.Code {
				return grade.Fail(details, &grade.Error{
					Description: rt.Describe(),
					Expected:    opts.Code,
					Received:    *rt.Code,
				})
			}
			return grade.Pass(details)
		},
	}
}

// InOutOptions configures InOut.
type InOutOptions struct {
	Executable string
	// Input is passed to the program as its only argument; Outputs hold
	// the accepted outputs. Both are relative to the problem's artifact
	// directory.
	Input   string
	Outputs []string
	Timeout time.Duration
}

// InOut returns a test feeding an input file path to the executable and
// comparing its stdout with the accepted output files.
func InOut(opts InOutOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "run " + opts.Executable + " on " + opts.Input,
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			exe, missing := executable(a, opts.Executable)
			if missing != nil {
				return grade.Fail(grade.CorrectnessDetails{}, missing)
			}
			accepted := make([]string, 0, len(opts.Outputs))
			for _, name := range opts.Outputs {
				data, err := os.ReadFile(e.context.ArtifactFile(name))
				if err != nil {
					return grade.Incomplete(grade.CorrectnessDetails{}, &grade.Error{
						Description: "failed to read expected output",
						Location:    name,
						Traceback:   err.Error(),
					})
				}
				accepted = append(accepted, string(data))
			}
			rt := exe.Execute(e.ctx, e.runner, []string{e.context.ArtifactFile(opts.Input)}, process.Options{
				Timeout: e.testTimeout(opts.Timeout),
				Cwd:     e.context.ProblemPath,
			})
			return CompareStdout(rt, accepted...)
		},
	}
}
