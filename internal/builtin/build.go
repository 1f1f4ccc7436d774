package builtin

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
)

// BuildGPPExecutable compiles a single source file into destination.
// compiler is the compiler command with its base flags; flags are appended
// after them.
func BuildGPPExecutable(ctx context.Context, runner *process.Runner, compiler []string, source, destination string, flags []string, timeout time.Duration) (*grade.Result, *Executable) {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return grade.Failf(grade.BuildDetails{}, "failed to create %s: %v", filepath.Dir(destination), err), nil
	}
	args := slices.Concat(compiler, flags, []string{"-o", destination, source})
	rt := runner.Run(ctx, args, process.Options{Timeout: orDefault(timeout, DefaultBuildTimeout)})
	details := grade.BuildDetails{Runtime: rt}
	if !rt.Succeeded() {
		return grade.Fail(details, &grade.Error{
			Description: "failed to compile " + filepath.Base(source),
			Suggestion:  rt.Describe(),
			Received:    string(rt.Stderr),
		}), nil
	}
	if _, err := os.Stat(destination); err != nil {
		return grade.Failf(details, "build did not produce %s", filepath.Base(destination)), nil
	}
	return grade.Pass(details), NewExecutable(destination)
}

// BuildMakefile runs make unconditionally in dir.
func BuildMakefile(ctx context.Context, runner *process.Runner, makeCmd []string, dir string, options []string, timeout time.Duration) *grade.Result {
	args := slices.Concat(makeCmd, []string{"-B", "-C", dir}, options)
	rt := runner.Run(ctx, args, process.Options{Timeout: orDefault(timeout, DefaultMakeTimeout)})
	details := grade.BuildDetails{Runtime: rt}
	if !rt.Succeeded() {
		return grade.Fail(details, &grade.Error{
			Description: "failed to make " + filepath.Base(dir),
			Suggestion:  rt.Describe(),
			Received:    string(rt.Stderr),
		})
	}
	return grade.Pass(details)
}

// GPPOptions configures GPP.
type GPPOptions struct {
	// Source and Output are relative to the submission's problem directory.
	Source string
	Output string
	// Resource names the published executable; defaults to the base name
	// of Output.
	Resource string
	Flags    []string
	Timeout  time.Duration
}

// GPP returns a task compiling a single C++ file and publishing the
// resulting executable.
func GPP(opts GPPOptions) grade.TaskSpec {
	resource := opts.Resource
	if resource == "" {
		resource = filepath.Base(opts.Output)
	}
	return grade.TaskSpec{
		Description: "compile " + opts.Source,
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			result, exe := BuildGPPExecutable(e.ctx, e.runner, e.toolchain.Compiler,
				e.context.SubmissionFile(opts.Source),
				absolute(e.context.SubmissionFile(opts.Output)),
				opts.Flags, opts.Timeout)
			if exe != nil {
				e.resources.Set(resource, exe)
			}
			return result
		},
	}
}

// MakeOptions configures Make.
type MakeOptions struct {
	// Output is the produced executable relative to the problem directory;
	// when set it is published under Resource.
	Output   string
	Resource string
	Options  []string
	Timeout  time.Duration
}

// Make returns a task running make in the problem directory.
func Make(opts MakeOptions) grade.TaskSpec {
	resource := opts.Resource
	if resource == "" && opts.Output != "" {
		resource = filepath.Base(opts.Output)
	}
	return grade.TaskSpec{
		Description: "run make",
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			result := BuildMakefile(e.ctx, e.runner, e.toolchain.Make, e.context.ProblemPath, opts.Options, opts.Timeout)
			if !result.Passing || opts.Output == "" {
				return result
			}
			output := absolute(e.context.SubmissionFile(opts.Output))
			if _, err := os.Stat(output); err != nil {
				result.Passing = false
				result.Error = &grade.Error{Description: "build did not produce " + filepath.Base(output)}
				return result
			}
			e.resources.Set(resource, NewExecutable(output))
			return result
		},
	}
}

// absolute makes path absolute so the executable can be run from any
// working directory.
func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
