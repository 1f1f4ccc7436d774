package builtin

import (
	"strings"
	"time"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
)

// CommandOptions configures Command.
type CommandOptions struct {
	Args    []string
	Stdin   []byte
	Timeout time.Duration
}

// Command returns a generic task running an arbitrary command in the
// problem directory. It passes when the command exits with status zero;
// the runtime record is kept under the "runtime" key of the result.
func Command(opts CommandOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "run " + strings.Join(opts.Args, " "),
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			rt := e.runner.Run(e.ctx, opts.Args, process.Options{
				Stdin:   opts.Stdin,
				Timeout: orDefault(opts.Timeout, DefaultBuildTimeout),
				Cwd:     e.context.ProblemPath,
			})
			result := grade.Pass(grade.GenericDetails{})
			if !rt.Succeeded() {
				result = grade.Fail(grade.GenericDetails{}, &grade.Error{
					Description: rt.Describe(),
					Traceback:   string(rt.Stderr),
				})
			}
			result.Extra = map[string]any{"runtime": rt}
			return result
		},
	}
}
