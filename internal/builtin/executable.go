package builtin

import (
	"context"
	"fmt"
	"slices"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
)

// Executable is a program under test, published as a resource by build
// tasks and consumed by tests.
type Executable struct {
	Path string
	// Args are passed before any per-invocation arguments.
	Args []string
}

// NewExecutable returns an Executable for path with fixed leading args.
func NewExecutable(path string, args ...string) *Executable {
	return &Executable{Path: path, Args: args}
}

// Command returns the full argument vector for one invocation.
func (e *Executable) Command(extra ...string) []string {
	return slices.Concat([]string{e.Path}, e.Args, extra)
}

// Execute runs the program to completion.
func (e *Executable) Execute(ctx context.Context, runner *process.Runner, extra []string, opts process.Options) *process.Runtime {
	return runner.Run(ctx, e.Command(extra...), opts)
}

// Interactive starts the program for step-by-step driving.
func (e *Executable) Interactive(runner *process.Runner, extra []string, opts process.InteractiveOptions) (*process.Interactive, error) {
	return runner.Start(e.Command(extra...), opts)
}

// executable fetches the named executable resource. A missing executable
// fails the task rather than the whole run.
func executable(a grade.Args, name string) (*Executable, *grade.Error) {
	if exe, ok := grade.Resource[*Executable](a.Resources(), name); ok && exe != nil {
		return exe, nil
	}
	return nil, &grade.Error{
		Description: fmt.Sprintf("executable %s is not available", name),
		Suggestion:  "make sure the task building it passed",
	}
}
