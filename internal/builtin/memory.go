package builtin

import (
	"time"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
	"github.com/aristath/grader/internal/valgrind"
)

// MemoryResult grades a memcheck report: it passes when no bytes were lost
// and no errors were reported. A missing report leaves the test incomplete.
func MemoryResult(report *valgrind.Report) *grade.Result {
	details := grade.MemoryDetails{Runtime: report.Runtime}
	if report.Errors == nil {
		err := &grade.Error{Description: "memory checker produced no report"}
		if report.Runtime != nil {
			err.Suggestion = report.Runtime.Describe()
		}
		return grade.Incomplete(details, err)
	}
	blocks, lost := report.Lost()
	count := len(report.Errors)
	details.ErrorCount = &count
	details.LeakedBlocks = &blocks
	details.LeakedBytes = &lost
	if lost == 0 && count == 0 {
		return grade.Pass(details)
	}
	result := grade.Fail(details, nil)
	result.Error = &grade.Error{Description: result.String()}
	return result
}

// MemoryOptions configures Memory.
type MemoryOptions struct {
	Executable string
	Args       []string
	Stdin      []byte
	Timeout    time.Duration
}

// Memory returns a test running the executable under memcheck.
func Memory(opts MemoryOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "check " + opts.Executable + " for memory errors",
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			exe, missing := executable(a, opts.Executable)
			if missing != nil {
				return grade.Fail(grade.MemoryDetails{}, missing)
			}
			report, err := valgrind.Run(e.ctx, e.runner, exe.Command(opts.Args...), valgrind.Options{
				Command: e.toolchain.Valgrind,
				Options: process.Options{
					Stdin:   opts.Stdin,
					Timeout: orDefault(opts.Timeout, 10*e.testTimeout(0)),
					Cwd:     e.context.ProblemPath,
				},
			})
			if err != nil {
				return grade.Incomplete(grade.MemoryDetails{}, &grade.Error{Description: err.Error()})
			}
			return MemoryResult(report)
		},
	}
}
