package grade

import (
	"fmt"
	"runtime/debug"
	"slices"
)

// StageName identifies one of the three fixed stages.
type StageName string

const (
	StageSetup    StageName = "setup"
	StageTest     StageName = "test"
	StageTeardown StageName = "teardown"
)

// Kind tags a task and the details variant of its result.
type Kind string

const (
	KindCheck       Kind = "check"
	KindBuild       Kind = "build"
	KindGeneric     Kind = "generic"
	KindCorrectness Kind = "correctness"
	KindMemory      Kind = "memory"
	KindCleanup     Kind = "cleanup"
)

// Dependencies names the tasks that must have passed, or at least
// completed, before a task may run.
type Dependencies struct {
	Passing  []string
	Complete []string
}

// All returns the passing dependencies followed by the complete ones.
func (d Dependencies) All() []string {
	return slices.Concat(d.Passing, d.Complete)
}

// Runnable is the body of a task. Returning nil means the task passed with
// default details.
type Runnable func(args Args) *Result

// Task is a registered unit of work. Tasks are created by Stage.Add and are
// not modified afterwards.
type Task struct {
	Name         string
	Description  string
	Stage        StageName
	Kind         Kind
	Dependencies Dependencies
	Params       []Param
	Details      map[string]any
	Runnable     Runnable
}

func (t *Task) String() string {
	return t.Name
}

// Sanity reports whether the task is marked as a sanity check.
func (t *Task) Sanity() bool {
	v, _ := t.Details["sanity"].(bool)
	return v
}

// Run resolves the task's parameters from res and invokes its runnable.
// Errors are configuration faults only; the submission failing is reported
// through the Result.
func (t *Task) Run(res *Resources) (*Result, error) {
	values := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		v, ok := res.Lookup(p.Name)
		switch {
		case !ok && !p.HasDefault:
			return nil, &MissingResourceError{Task: t.Name, Name: p.Name}
		case !ok:
			v = p.Default
		case p.accepts != nil && !p.accepts(v):
			return nil, &ResourceTypeError{Task: t.Name, Name: p.Name, Want: p.typeName, Got: v}
		}
		values[p.Name] = v
	}

	result := t.invoke(Args{task: t, values: values, resources: res})
	if result == nil {
		result = Pass(nil)
	}
	if result.Details == nil {
		result.Details = defaultDetails(t.Kind)
	} else if got := result.Details.Kind(); got != t.Kind {
		return nil, &KindMismatchError{Task: t.Name, Want: t.Kind, Got: got}
	}
	result.bind(t)
	return result, nil
}

// invoke calls the runnable, turning a panic into a failing result.
func (t *Task) invoke(args Args) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = &Result{
				Complete: true,
				Error: &Error{
					Description: fmt.Sprint(r),
					Traceback:   string(debug.Stack()),
				},
			}
		}
	}()
	return t.Runnable(args)
}
