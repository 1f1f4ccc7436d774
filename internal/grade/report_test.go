package grade

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/grader/internal/process"
)

func sampleGrader(t *testing.T) *Grader {
	t.Helper()
	g := New(nil)
	must(t)(g.Setup.AddCheck(TaskSpec{Name: "check", Run: pass}))
	must(t)(g.Setup.AddBuild(TaskSpec{Name: "build", Passing: []string{"check"}, Run: func(Args) *Result {
		code := 1
		return Fail(BuildDetails{Runtime: &process.Runtime{Args: []string{"g++"}, Code: &code, Stderr: []byte("error")}},
			&Error{Description: "failed to compile main.cpp", Suggestion: "read the compiler output"})
	}}))
	must(t)(g.Test.AddTest(TaskSpec{Name: "test", Passing: []string{"build"}, Run: pass}))
	must(t)(g.Test.AddGeneric(TaskSpec{Name: "style", Run: func(Args) *Result {
		r := Pass(nil)
		r.Extra = map[string]any{"score": 3}
		return r
	}}))
	return g
}

// TestReport_RoundTrip verifies a dumped report decodes to the same outcomes
func TestReport_RoundTrip(t *testing.T) {
	g := sampleGrader(t)
	report, err := g.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Keys follow execution order.
	order := []string{`"check"`, `"build"`, `"test"`, `"style"`}
	last := -1
	for _, key := range order {
		i := strings.Index(string(data), key+":")
		if i <= last {
			t.Fatalf("Expected %s after previous keys in %s", key, data)
		}
		last = i
	}

	loaded, err := LoadReport(data, g.Tasks())
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	for _, want := range report.Results() {
		got, ok := loaded.Get(want.Name())
		if !ok {
			t.Fatalf("Expected %s in loaded report", want.Name())
		}
		if got.Complete != want.Complete || got.Passing != want.Passing || got.Kind() != want.Kind() {
			t.Errorf("%s: expected %v/%v/%s, got %v/%v/%s", want.Name(),
				want.Complete, want.Passing, want.Kind(), got.Complete, got.Passing, got.Kind())
		}
		if got.Task() != want.Task() {
			t.Errorf("%s: expected result to be rebound to its task", want.Name())
		}
	}

	build, _ := loaded.Get("build")
	if build.Error == nil || build.Error.Description != "failed to compile main.cpp" {
		t.Errorf("Expected build error to survive, got %+v", build.Error)
	}
	style, _ := loaded.Get("style")
	if raw, ok := style.Details.(RawDetails); !ok || raw.Fields["score"] != float64(3) {
		t.Errorf("Expected extra details to survive, got %#v", style.Details)
	}

	again, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("Marshal of loaded report failed: %v", err)
	}
	var first, second any
	json.Unmarshal(data, &first)
	json.Unmarshal(again, &second)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected stable dump\nfirst:  %s\nsecond: %s", data, again)
	}
}

// TestResult_ErrorShape verifies the error object always carries six keys
func TestResult_ErrorShape(t *testing.T) {
	r := Fail(CheckDetails{}, &Error{Description: "can't find main.cpp"})
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var dump struct {
		Kind    string          `json:"kind"`
		Error   map[string]any  `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(dump.Error) != 6 {
		t.Errorf("Expected 6 error keys, got %v", dump.Error)
	}
	if dump.Error["suggestion"] != nil {
		t.Errorf("Expected null suggestion, got %v", dump.Error["suggestion"])
	}
	if dump.Kind != "check" || string(dump.Details) != "{}" {
		t.Errorf("Expected check kind with empty details, got %s", data)
	}

	passing, _ := json.Marshal(Pass(CheckDetails{}))
	if !strings.Contains(string(passing), `"error":null`) {
		t.Errorf("Expected null error on a passing result, got %s", passing)
	}
}

// TestReport_Statistics verifies tasks and tests are counted separately
func TestReport_Statistics(t *testing.T) {
	report, err := sampleGrader(t).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := report.Statistics()
	want := Statistics{
		TasksTotal: 4, TasksComplete: 3, TasksPassing: 2,
		TestsTotal: 2, TestsComplete: 1, TestsPassing: 1,
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	assignment := NewAssignmentReport()
	assignment.Set("second", report)
	assignment.Set("first", report)
	data, err := json.Marshal(assignment)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Index(string(data), `"second"`) > strings.Index(string(data), `"first"`) {
		t.Errorf("Expected problem order to be preserved, got %s", data)
	}

	var decoded AssignmentReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if strings.Join(decoded.Problems(), ",") != "second,first" {
		t.Errorf("Expected decoded order second,first, got %v", decoded.Problems())
	}
	if decoded.Statistics().TasksTotal != 8 {
		t.Errorf("Expected 8 tasks across problems, got %d", decoded.Statistics().TasksTotal)
	}
}
