package builtin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/grader/internal/grade"
	"github.com/aristath/grader/internal/process"
)

// Step is one exchange with an interactive program: send Input as a line,
// then wait until stdout contains Expect.
type Step struct {
	Input  string
	Expect string
}

// ConversationOptions configures Conversation.
type ConversationOptions struct {
	Executable string
	Args       []string
	Steps      []Step
	// StepTimeout bounds the wait for each expected reply.
	StepTimeout time.Duration
	// PTY runs the program on a terminal so stdio is line buffered.
	PTY bool
}

// Conversation returns a test that drives the executable step by step over
// a single long-lived process.
func Conversation(opts ConversationOptions) grade.TaskSpec {
	return grade.TaskSpec{
		Description: "interact with " + opts.Executable,
		Params:      params(),
		Run: func(a grade.Args) *grade.Result {
			e := envOf(a)
			exe, missing := executable(a, opts.Executable)
			if missing != nil {
				return grade.Fail(grade.CorrectnessDetails{}, missing)
			}
			p, err := exe.Interactive(e.runner, opts.Args, process.InteractiveOptions{
				Cwd: e.context.ProblemPath,
				PTY: opts.PTY,
			})
			if err != nil {
				return grade.Fail(grade.CorrectnessDetails{}, &grade.Error{Description: err.Error()})
			}
			timeout := e.testTimeout(opts.StepTimeout)
			failure := converse(p, opts.Steps, timeout)
			rt := p.Close(timeout)
			details := grade.CorrectnessDetails{Runtime: rt}
			if failure != nil {
				return grade.Fail(details, failure)
			}
			if failed := runtimeFailure(details, rt); failed != nil {
				return failed
			}
			return grade.Pass(details)
		},
	}
}

func converse(p *process.Interactive, steps []Step, timeout time.Duration) *grade.Error {
	for i, step := range steps {
		if step.Input != "" {
			if err := p.WriteLine(step.Input); err != nil {
				return &grade.Error{Description: fmt.Sprintf("step %d: program stopped reading input", i+1)}
			}
		}
		if step.Expect == "" {
			continue
		}
		if _, err := p.Stdout().Read(process.Contains(step.Expect), timeout); err != nil {
			received := strings.TrimSpace(string(p.Stdout().Peek()))
			desc := fmt.Sprintf("step %d: no matching output after %s", i+1, timeout)
			if errors.Is(err, process.ErrStreamClosed) {
				desc = fmt.Sprintf("step %d: program exited before producing expected output", i+1)
			}
			return &grade.Error{Description: desc, Expected: step.Expect, Received: received}
		}
	}
	return nil
}
