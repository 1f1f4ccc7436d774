package grade

import (
	"fmt"
	"maps"
	"slices"
)

var stageKinds = map[StageName][]Kind{
	StageSetup:    {KindCheck, KindBuild, KindGeneric},
	StageTest:     {KindCorrectness, KindMemory, KindGeneric},
	StageTeardown: {KindCleanup, KindGeneric},
}

// TaskSpec describes a task to register.
type TaskSpec struct {
	Name        string
	Description string
	// Passing lists tasks that must have passed; Complete lists tasks that
	// must merely have run to completion.
	Passing  []string
	Complete []string
	Params   []Param
	Details  map[string]any
	Run      Runnable
}

// Stage holds the tasks registered for one phase of a grader.
type Stage struct {
	name   StageName
	grader *Grader
	tasks  []*Task
}

// Name returns the stage name.
func (s *Stage) Name() StageName { return s.name }

// Tasks returns the tasks in registration order.
func (s *Stage) Tasks() []*Task { return slices.Clone(s.tasks) }

// Len returns the number of registered tasks.
func (s *Stage) Len() int { return len(s.tasks) }

// Add registers a task of the given kind. Registration errors are returned
// and also remembered by the grader so Check reports them.
func (s *Stage) Add(kind Kind, spec TaskSpec) (*Task, error) {
	if err := s.validate(kind, spec); err != nil {
		s.grader.registrationFailed(err)
		return nil, err
	}
	t := &Task{
		Name:        spec.Name,
		Description: spec.Description,
		Stage:       s.name,
		Kind:        kind,
		Dependencies: Dependencies{
			Passing:  slices.Clone(spec.Passing),
			Complete: slices.Clone(spec.Complete),
		},
		Params:   slices.Clone(spec.Params),
		Details:  maps.Clone(spec.Details),
		Runnable: spec.Run,
	}
	if t.Details == nil {
		t.Details = make(map[string]any)
	}
	s.tasks = append(s.tasks, t)
	s.grader.registered(t)
	return t, nil
}

func (s *Stage) validate(kind Kind, spec TaskSpec) error {
	invalid := func(format string, args ...any) error {
		return &GraphError{Kind: ErrInvalidTask, Task: spec.Name, Msg: fmt.Sprintf(format, args...)}
	}
	if spec.Name == "" {
		return invalid("task name is empty")
	}
	if spec.Run == nil {
		return invalid("no runnable")
	}
	if !slices.Contains(stageKinds[s.name], kind) {
		return invalid("%s tasks cannot be registered in the %s stage", kind, s.name)
	}
	if _, exists := s.grader.Task(spec.Name); exists {
		return &GraphError{Kind: ErrDuplicateTask, Task: spec.Name, Msg: "registered more than once"}
	}
	for _, dep := range spec.Passing {
		if slices.Contains(spec.Complete, dep) {
			return invalid("%q is both a passing and a complete dependency", dep)
		}
	}
	return nil
}

// AddCheck registers a setup task that checks the submission.
func (s *Stage) AddCheck(spec TaskSpec) (*Task, error) { return s.Add(KindCheck, spec) }

// AddBuild registers a setup task that builds the submission.
func (s *Stage) AddBuild(spec TaskSpec) (*Task, error) { return s.Add(KindBuild, spec) }

// AddGeneric registers a task of no particular kind.
func (s *Stage) AddGeneric(spec TaskSpec) (*Task, error) { return s.Add(KindGeneric, spec) }

// AddCorrectness registers a test comparing program behavior.
func (s *Stage) AddCorrectness(spec TaskSpec) (*Task, error) { return s.Add(KindCorrectness, spec) }

// AddTest is AddCorrectness.
func (s *Stage) AddTest(spec TaskSpec) (*Task, error) { return s.AddCorrectness(spec) }

// AddMemory registers a memory checking test.
func (s *Stage) AddMemory(spec TaskSpec) (*Task, error) { return s.Add(KindMemory, spec) }

// AddCleanup registers a teardown task.
func (s *Stage) AddCleanup(spec TaskSpec) (*Task, error) { return s.Add(KindCleanup, spec) }
