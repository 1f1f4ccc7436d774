package grade

import (
	"errors"
	"strings"
	"testing"
)

func task(name string, deps ...string) *Task {
	return &Task{Name: name, Dependencies: Dependencies{Passing: deps}}
}

func names(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}

// TestSort_RespectsDependencies verifies every task follows its dependencies
func TestSort_RespectsDependencies(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  []string
	}{
		{
			name:  "independent tasks keep registration order",
			tasks: []*Task{task("c"), task("a"), task("b")},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "chain registered backwards",
			tasks: []*Task{task("c", "b"), task("b", "a"), task("a")},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "diamond",
			tasks: []*Task{task("d", "b", "c"), task("b", "a"), task("c", "a"), task("a")},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name: "complete dependencies count too",
			tasks: []*Task{
				{Name: "cleanup", Dependencies: Dependencies{Complete: []string{"build"}}},
				task("build"),
			},
			want: []string{"build", "cleanup"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sorted, err := Sort(tt.tasks)
			if err != nil {
				t.Fatalf("Sort failed: %v", err)
			}
			got := names(sorted[0])
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Expected order %v, got %v", tt.want, got)
			}
		})
	}
}

// TestSort_AcrossStages verifies dependencies may point into earlier stages only
func TestSort_AcrossStages(t *testing.T) {
	setup := []*Task{task("build", "check"), task("check")}
	test := []*Task{task("run", "build")}
	teardown := []*Task{task("cleanup", "build")}

	sorted, err := Sort(setup, test, teardown)
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}
	if got := names(sorted[0]); strings.Join(got, ",") != "check,build" {
		t.Errorf("Expected setup order check,build, got %v", got)
	}
	if len(sorted[1]) != 1 || len(sorted[2]) != 1 {
		t.Errorf("Expected one task in test and teardown, got %d and %d", len(sorted[1]), len(sorted[2]))
	}

	_, err = Sort([]*Task{task("build", "run")}, []*Task{task("run")})
	if !errors.Is(err, ErrStageOrder) {
		t.Errorf("Expected ErrStageOrder, got %v", err)
	}
}

// TestSort_Cycle verifies cycles fail deterministically with their participants
func TestSort_Cycle(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		path  string
	}{
		{"two tasks", []*Task{task("a", "b"), task("b", "a")}, "a -> b -> a"},
		{"self", []*Task{task("a", "a")}, "a -> a"},
		{"behind a root", []*Task{task("root", "x"), task("x", "y"), task("y", "z"), task("z", "x")}, "x -> y -> z -> x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				_, err := Sort(tt.tasks)
				if !errors.Is(err, ErrCycle) {
					t.Fatalf("Expected ErrCycle, got %v", err)
				}
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("Expected cycle to be a configuration error")
				}
				var gerr *GraphError
				if !errors.As(err, &gerr) || gerr.Msg != tt.path {
					t.Errorf("Expected cycle path %q, got %v", tt.path, err)
				}
			}
		})
	}
}

// TestSort_UnknownDependency verifies unresolved names are reported
func TestSort_UnknownDependency(t *testing.T) {
	_, err := Sort([]*Task{task("build", "missing")})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("Expected ErrUnknownDependency, got %v", err)
	}
	if !strings.Contains(err.Error(), `"missing"`) {
		t.Errorf("Expected error to name the dependency, got %v", err)
	}
}
