package grade

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func pass(Args) *Result { return nil }

func fail(Args) *Result { return Failf(nil, "nope") }

// must fails the test when a registration returns an error.
func must(t *testing.T) func(*Task, error) {
	t.Helper()
	return func(_ *Task, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("registration failed: %v", err)
		}
	}
}

// TestGrader_SkipsDependentsOfFailedTasks verifies a failed passing dependency
// prevents the dependent from running
func TestGrader_SkipsDependentsOfFailedTasks(t *testing.T) {
	g := New(nil)
	invoked := 0
	sentinel := func(Args) *Result {
		invoked++
		return nil
	}

	must(t)(g.Setup.AddCheck(TaskSpec{Name: "check", Run: fail}))
	must(t)(g.Setup.AddBuild(TaskSpec{Name: "build", Passing: []string{"check"}, Run: sentinel}))
	must(t)(g.Setup.AddCheck(TaskSpec{Name: "independent", Run: pass}))
	must(t)(g.Test.AddTest(TaskSpec{Name: "test", Passing: []string{"build"}, Run: sentinel}))
	must(t)(g.Teardown.AddCleanup(TaskSpec{Name: "cleanup", Complete: []string{"build"}, Run: sentinel}))

	var out bytes.Buffer
	report, err := g.Run(context.Background(), RunOptions{Log: &out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if invoked != 0 {
		t.Errorf("Expected dependents never to run, ran %d times", invoked)
	}

	want := map[string][2]bool{
		"check":       {true, false},
		"build":       {false, false},
		"independent": {true, true},
		"test":        {false, false},
		"cleanup":     {false, false},
	}
	for name, w := range want {
		res, ok := report.Get(name)
		if !ok {
			t.Fatalf("Expected result for %s", name)
		}
		if res.Complete != w[0] || res.Passing != w[1] {
			t.Errorf("%s: expected complete=%v passing=%v, got %v %v", name, w[0], w[1], res.Complete, res.Passing)
		}
	}

	build, _ := report.Get("build")
	if build.Error == nil || build.Error.Description != incompleteDescription {
		t.Errorf("Expected incomplete description, got %+v", build.Error)
	}
	if build.Kind() != KindBuild {
		t.Errorf("Expected skipped build to keep its kind, got %s", build.Kind())
	}
	if !strings.Contains(out.String(), "check: failed: nope") {
		t.Errorf("Expected log line for check, got %q", out.String())
	}
	if report.Len() != 5 {
		t.Errorf("Expected 5 results, got %d", report.Len())
	}
}

// TestGrader_CheckIsIdempotent verifies Check yields the same order every time
func TestGrader_CheckIsIdempotent(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddBuild(TaskSpec{Name: "build", Passing: []string{"check"}, Run: pass}))
	must(t)(g.Setup.AddCheck(TaskSpec{Name: "check", Run: pass}))
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "note", Run: pass}))

	first, err := g.Order()
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	second, err := g.Order()
	if err != nil {
		t.Fatalf("second Check failed: %v", err)
	}
	if strings.Join(names(first[0]), ",") != strings.Join(names(second[0]), ",") {
		t.Errorf("Expected identical orders, got %v and %v", names(first[0]), names(second[0]))
	}
	if got := strings.Join(names(first[0]), ","); got != "check,build,note" {
		t.Errorf("Expected check,build,note, got %s", got)
	}

	fresh, err := Sort(g.Setup.Tasks(), g.Test.Tasks(), g.Teardown.Tasks())
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}
	if got := strings.Join(names(fresh[0]), ","); got != "check,build,note" {
		t.Errorf("Expected a fresh sort to give check,build,note, got %s", got)
	}

	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "later", Passing: []string{"build"}, Run: pass}))
	third, err := g.Order()
	if err != nil {
		t.Fatalf("Check after registration failed: %v", err)
	}
	if got := strings.Join(names(third[0]), ","); got != "check,build,note,later" {
		t.Errorf("Expected earlier order kept with later appended, got %s", got)
	}
}

// TestGrader_RegistrationErrors verifies bad registrations surface from Check
func TestGrader_RegistrationErrors(t *testing.T) {
	tests := []struct {
		name     string
		register func(g *Grader) error
		want     error
	}{
		{"duplicate name", func(g *Grader) error {
			g.Setup.AddCheck(TaskSpec{Name: "a", Run: pass})
			_, err := g.Teardown.AddCleanup(TaskSpec{Name: "a", Run: pass})
			return err
		}, ErrDuplicateTask},
		{"wrong stage for kind", func(g *Grader) error {
			_, err := g.Setup.AddTest(TaskSpec{Name: "a", Run: pass})
			return err
		}, ErrInvalidTask},
		{"overlapping dependencies", func(g *Grader) error {
			_, err := g.Setup.AddCheck(TaskSpec{Name: "a", Passing: []string{"b"}, Complete: []string{"b"}, Run: pass})
			return err
		}, ErrInvalidTask},
		{"no runnable", func(g *Grader) error {
			_, err := g.Setup.AddCheck(TaskSpec{Name: "a"})
			return err
		}, ErrInvalidTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(nil)
			if err := tt.register(g); !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v from registrar, got %v", tt.want, err)
			}
			if err := g.Check(); !errors.Is(err, tt.want) || !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected Check to report %v, got %v", tt.want, err)
			}
		})
	}
}

// TestGrader_SanityOnly verifies the test stage is skipped
func TestGrader_SanityOnly(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddCheck(TaskSpec{Name: "check", Run: pass}))
	must(t)(g.Test.AddTest(TaskSpec{Name: "test", Passing: []string{"check"}, Run: pass}))
	must(t)(g.Teardown.AddCleanup(TaskSpec{Name: "cleanup", Complete: []string{"check"}, Run: pass}))

	report, err := g.Run(context.Background(), RunOptions{SanityOnly: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := report.Get("test"); ok {
		t.Error("Expected test stage to be skipped")
	}
	if !report.Passed("check") || !report.Passed("cleanup") {
		t.Error("Expected setup and teardown to run")
	}
}

// TestGrader_ResourceInjection verifies resources flow between tasks
func TestGrader_ResourceInjection(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddGeneric(TaskSpec{
		Name: "produce",
		Run: func(a Args) *Result {
			a.Resources().Set("answer", 42)
			return nil
		},
	}))
	var got, greeting any
	must(t)(g.Test.AddGeneric(TaskSpec{
		Name:    "consume",
		Passing: []string{"produce"},
		Params:  []Param{Need[int]("answer"), Want("greeting", "hello"), Need[*Report](ResourceReport)},
		Run: func(a Args) *Result {
			got = Get[int](a, "answer")
			greeting = Get[string](a, "greeting")
			if Get[*Report](a, ResourceReport) == nil {
				return Failf(nil, "no report")
			}
			return nil
		},
	}))

	report, err := g.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Passed("consume") {
		res, _ := report.Get("consume")
		t.Fatalf("Expected consume to pass, got %s", res)
	}
	if got != 42 || greeting != "hello" {
		t.Errorf("Expected injected 42 and default greeting, got %v, %v", got, greeting)
	}
}

// TestGrader_MissingResource verifies an unsatisfiable parameter aborts the run
func TestGrader_MissingResource(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "needy", Params: []Param{Need[string]("nothing")}, Run: pass}))

	_, err := g.Run(context.Background(), RunOptions{})
	var missing *MissingResourceError
	if !errors.As(err, &missing) || missing.Name != "nothing" {
		t.Fatalf("Expected MissingResourceError, got %v", err)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Error("Expected missing resource to be a configuration error")
	}

	g = New(nil)
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "typed", Params: []Param{Need[int]("value")}, Run: pass}))
	_, err = g.Run(context.Background(), RunOptions{Seed: map[string]any{"value": "text"}})
	var typeErr *ResourceTypeError
	if !errors.As(err, &typeErr) || typeErr.Want != "int" {
		t.Fatalf("Expected ResourceTypeError, got %v", err)
	}
}

// TestGrader_PanicBecomesFailure verifies a panicking runnable fails its task only
func TestGrader_PanicBecomesFailure(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "boom", Run: func(Args) *Result { panic("kaboom") }}))
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "after", Run: pass}))

	report, err := g.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	boom, _ := report.Get("boom")
	if !boom.Complete || boom.Passing || boom.Error.Description != "kaboom" || boom.Error.Traceback == "" {
		t.Errorf("Expected failing result with traceback, got %+v", boom)
	}
	if !report.Passed("after") {
		t.Error("Expected run to continue after a panic")
	}
}

// TestGrader_KindMismatch verifies details of the wrong kind are rejected
func TestGrader_KindMismatch(t *testing.T) {
	g := New(nil)
	must(t)(g.Setup.AddCheck(TaskSpec{Name: "check", Run: func(Args) *Result {
		return Pass(BuildDetails{})
	}}))

	_, err := g.Run(context.Background(), RunOptions{})
	var mismatch *KindMismatchError
	if !errors.As(err, &mismatch) || mismatch.Got != KindBuild {
		t.Fatalf("Expected KindMismatchError, got %v", err)
	}
}

// TestGrader_Cancelled verifies a cancelled context stops the run between tasks
func TestGrader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := New(nil)
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "first", Run: func(Args) *Result {
		cancel()
		return nil
	}}))
	must(t)(g.Setup.AddGeneric(TaskSpec{Name: "second", Run: pass}))

	report, err := g.Run(ctx, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if report.Len() != 1 {
		t.Errorf("Expected only the first result, got %d", report.Len())
	}
}
