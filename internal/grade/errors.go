package grade

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every error that stems from how a grader
// was put together rather than from the submission under test.
var ErrConfiguration = errors.New("grader configuration error")

var (
	ErrDuplicateTask     = errors.New("duplicate task")
	ErrInvalidTask       = errors.New("invalid task")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrStageOrder        = errors.New("dependency on a later stage")
	ErrCycle             = errors.New("found cycle in task dependencies")
)

// GraphError reports a problem with task registration or the dependency
// graph. Kind is one of the sentinels above.
type GraphError struct {
	Kind error
	Task string
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%v: task %q: %s", e.Kind, e.Task, e.Msg)
}

func (e *GraphError) Unwrap() []error {
	return []error{e.Kind, ErrConfiguration}
}

// MissingResourceError is returned when a task requires a resource that
// nobody provided and that has no default.
type MissingResourceError struct {
	Task string
	Name string
}

func (e *MissingResourceError) Error() string {
	return fmt.Sprintf("task %q requires missing resource %q", e.Task, e.Name)
}

func (e *MissingResourceError) Unwrap() error { return ErrConfiguration }

// ResourceTypeError is returned when a resource exists but holds a value of
// a type the task cannot accept.
type ResourceTypeError struct {
	Task string
	Name string
	Want string
	Got  any
}

func (e *ResourceTypeError) Error() string {
	return fmt.Sprintf("task %q: resource %q is %T, want %s", e.Task, e.Name, e.Got, e.Want)
}

func (e *ResourceTypeError) Unwrap() error { return ErrConfiguration }

// KindMismatchError is returned when a runnable produces details of a
// different kind than its task was registered with.
type KindMismatchError struct {
	Task string
	Want Kind
	Got  Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("task %q returned %s details, want %s", e.Task, e.Got, e.Want)
}

func (e *KindMismatchError) Unwrap() error { return ErrConfiguration }
