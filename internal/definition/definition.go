// Package definition loads graders declared in grader.yaml files.
package definition

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/aristath/grader/internal/builtin"
	"github.com/aristath/grader/internal/grade"
)

// FileName is the conventional definition file inside a problem directory.
const FileName = "grader.yaml"

// ErrDefinition is wrapped by every error describing a bad definition.
var ErrDefinition = errors.New("invalid grader definition")

// FieldError reports a task whose declaration cannot be turned into a task.
type FieldError struct {
	Task  string
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("task %q: %s", e.Task, e.Msg)
	}
	return fmt.Sprintf("task %q: %s: %s", e.Task, e.Field, e.Msg)
}

func (e *FieldError) Unwrap() []error { return []error{ErrDefinition, grade.ErrConfiguration} }

// Step is one exchange of a conversation test.
type Step struct {
	Input  string `yaml:"input"`
	Expect string `yaml:"expect"`
}

// Task is one entry of the tasks list. Which fields apply depends on Kind.
type Task struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Stage       string         `yaml:"stage"`
	Kind        string         `yaml:"kind"`
	Sanity      bool           `yaml:"sanity"`
	Passing     []string       `yaml:"passing"`
	Complete    []string       `yaml:"complete"`
	Details     map[string]any `yaml:"details"`

	// check
	File     string `yaml:"file"`
	Resource string `yaml:"resource"`
	Search   bool   `yaml:"search"`
	Makefile bool   `yaml:"makefile"`

	// build
	Source  string `yaml:"source"`
	Output  string `yaml:"output"`
	Flags   string `yaml:"flags"`
	Make    bool   `yaml:"make"`
	Options string `yaml:"options"`

	// correctness and memory
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	Stdin      string   `yaml:"stdin"`
	Expected   []string `yaml:"expected"`
	Code       *int     `yaml:"code"`
	Input      string   `yaml:"input"`
	Outputs    []string `yaml:"outputs"`
	Steps      []Step   `yaml:"steps"`
	PTY        bool     `yaml:"pty"`
	Timeout    string   `yaml:"timeout"`

	// cleanup
	Remove []string `yaml:"remove"`

	// generic
	Command string `yaml:"command"`
}

// Definition is a parsed grader.yaml.
type Definition struct {
	Tasks []Task `yaml:"tasks"`
}

// Parse decodes a definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.UnmarshalWithOptions(data, &d, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefinition, err)
	}
	if len(d.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks declared", ErrDefinition)
	}
	return &d, nil
}

// Load reads and parses the definition at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

// Grader registers every declared task on a new grader and checks it.
func (d *Definition) Grader(logger *zap.Logger) (*grade.Grader, error) {
	g := grade.New(logger)
	var errs []error
	for _, t := range d.Tasks {
		if err := register(g, t); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := g.Check(); err != nil {
		return nil, err
	}
	return g, nil
}

var kinds = []grade.Kind{
	grade.KindCheck, grade.KindBuild, grade.KindGeneric,
	grade.KindCorrectness, grade.KindMemory, grade.KindCleanup,
}

// defaultStages is where each kind lives when stage is omitted.
var defaultStages = map[grade.Kind]grade.StageName{
	grade.KindCheck:       grade.StageSetup,
	grade.KindBuild:       grade.StageSetup,
	grade.KindCorrectness: grade.StageTest,
	grade.KindMemory:      grade.StageTest,
	grade.KindCleanup:     grade.StageTeardown,
}

func register(g *grade.Grader, t Task) error {
	kind := grade.Kind(t.Kind)
	if !slices.Contains(kinds, kind) {
		return &FieldError{Task: t.Name, Field: "kind", Msg: fmt.Sprintf("unknown kind %q", t.Kind)}
	}
	stageName := grade.StageName(t.Stage)
	if stageName == "" {
		def, ok := defaultStages[kind]
		if !ok {
			return &FieldError{Task: t.Name, Field: "stage", Msg: "required for " + t.Kind + " tasks"}
		}
		stageName = def
	}
	var stage *grade.Stage
	for _, s := range g.Stages() {
		if s.Name() == stageName {
			stage = s
		}
	}
	if stage == nil {
		return &FieldError{Task: t.Name, Field: "stage", Msg: fmt.Sprintf("unknown stage %q", t.Stage)}
	}

	spec, err := taskSpec(kind, t)
	if err != nil {
		return err
	}
	spec.Name = t.Name
	if t.Description != "" {
		spec.Description = t.Description
	}
	spec.Passing = t.Passing
	spec.Complete = t.Complete
	spec.Details = make(map[string]any, len(t.Details)+1)
	for k, v := range t.Details {
		spec.Details[k] = v
	}
	if t.Sanity {
		spec.Details["sanity"] = true
	}
	_, err = stage.Add(kind, spec)
	return err
}

func taskSpec(kind grade.Kind, t Task) (grade.TaskSpec, error) {
	missing := func(field string) error {
		return &FieldError{Task: t.Name, Field: field, Msg: "required for " + t.Kind + " tasks"}
	}
	timeout, err := parseTimeout(t)
	if err != nil {
		return grade.TaskSpec{}, err
	}

	switch kind {
	case grade.KindCheck:
		if t.Makefile {
			return builtin.CheckMakefile(), nil
		}
		if t.File == "" {
			return grade.TaskSpec{}, missing("file")
		}
		return builtin.CheckFile(t.File, t.Resource, t.Search), nil

	case grade.KindBuild:
		if t.Make {
			options, err := split(t, "options", t.Options)
			if err != nil {
				return grade.TaskSpec{}, err
			}
			return builtin.Make(builtin.MakeOptions{
				Output:   t.Output,
				Resource: t.Resource,
				Options:  options,
				Timeout:  timeout,
			}), nil
		}
		if t.Source == "" {
			return grade.TaskSpec{}, missing("source")
		}
		if t.Output == "" {
			return grade.TaskSpec{}, missing("output")
		}
		flags, err := split(t, "flags", t.Flags)
		if err != nil {
			return grade.TaskSpec{}, err
		}
		return builtin.GPP(builtin.GPPOptions{
			Source:   t.Source,
			Output:   t.Output,
			Resource: t.Resource,
			Flags:    flags,
			Timeout:  timeout,
		}), nil

	case grade.KindCorrectness:
		if t.Executable == "" {
			return grade.TaskSpec{}, missing("executable")
		}
		return correctness(t, timeout)

	case grade.KindMemory:
		if t.Executable == "" {
			return grade.TaskSpec{}, missing("executable")
		}
		return builtin.Memory(builtin.MemoryOptions{
			Executable: t.Executable,
			Args:       t.Args,
			Stdin:      []byte(t.Stdin),
			Timeout:    timeout,
		}), nil

	case grade.KindCleanup:
		if len(t.Remove) == 0 {
			return grade.TaskSpec{}, missing("remove")
		}
		return builtin.Cleanup(t.Remove...), nil

	case grade.KindGeneric:
		if t.Command == "" {
			return grade.TaskSpec{}, missing("command")
		}
		args, err := split(t, "command", t.Command)
		if err != nil {
			return grade.TaskSpec{}, err
		}
		return builtin.Command(builtin.CommandOptions{
			Args:    args,
			Stdin:   []byte(t.Stdin),
			Timeout: timeout,
		}), nil
	}
	return grade.TaskSpec{}, &FieldError{Task: t.Name, Field: "kind", Msg: fmt.Sprintf("unknown kind %q", t.Kind)}
}

// correctness picks the test flavour from whichever expectation is set.
func correctness(t Task, timeout time.Duration) (grade.TaskSpec, error) {
	set := 0
	for _, present := range []bool{len(t.Expected) > 0, t.Code != nil, t.Input != "", len(t.Steps) > 0} {
		if present {
			set++
		}
	}
	if set != 1 {
		return grade.TaskSpec{}, &FieldError{
			Task: t.Name,
			Msg:  "exactly one of expected, code, input or steps must be set",
		}
	}

	switch {
	case len(t.Expected) > 0:
		return builtin.Output(builtin.OutputOptions{
			Executable: t.Executable,
			Args:       t.Args,
			Stdin:      []byte(t.Stdin),
			Expected:   t.Expected,
			Timeout:    timeout,
		}), nil
	case t.Code != nil:
		return builtin.Exit(builtin.ExitOptions{
			Executable: t.Executable,
			Args:       t.Args,
			Stdin:      []byte(t.Stdin),
			Code:       *t.Code,
			Timeout:    timeout,
		}), nil
	case t.Input != "":
		if len(t.Outputs) == 0 {
			return grade.TaskSpec{}, &FieldError{Task: t.Name, Field: "outputs", Msg: "required with input"}
		}
		return builtin.InOut(builtin.InOutOptions{
			Executable: t.Executable,
			Input:      t.Input,
			Outputs:    t.Outputs,
			Timeout:    timeout,
		}), nil
	}
	steps := make([]builtin.Step, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = builtin.Step{Input: s.Input, Expect: s.Expect}
	}
	return builtin.Conversation(builtin.ConversationOptions{
		Executable:  t.Executable,
		Args:        t.Args,
		Steps:       steps,
		StepTimeout: timeout,
		PTY:         t.PTY,
	}), nil
}

func parseTimeout(t Task) (time.Duration, error) {
	if t.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t.Timeout)
	if err != nil || d <= 0 {
		return 0, &FieldError{Task: t.Name, Field: "timeout", Msg: fmt.Sprintf("invalid duration %q", t.Timeout)}
	}
	return d, nil
}

func split(t Task, field, value string) ([]string, error) {
	words, err := shlex.Split(value)
	if err != nil {
		return nil, &FieldError{Task: t.Name, Field: field, Msg: err.Error()}
	}
	return words, nil
}
